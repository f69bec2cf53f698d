package consumers

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/michaelmcclelland/orderflow/internal/database/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu        sync.Mutex
	orders    map[string]models.Order
	invoices  map[string]string
	insertErr error
	cancelErr error
	inserts   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{orders: make(map[string]models.Order), invoices: make(map[string]string)}
}

func (f *fakeStore) InsertOrder(ctx context.Context, o models.Order) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.insertErr != nil {
		return false, f.insertErr
	}
	if _, ok := f.orders[o.ID]; ok {
		return false, nil
	}
	f.orders[o.ID] = o
	return true, nil
}

func (f *fakeStore) CancelOrder(ctx context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	o, ok := f.orders[id]
	if !ok {
		return models.ErrOrderNotFound
	}
	if o.Status == models.StatusCancelled {
		return models.ErrAlreadyCancelled
	}
	o.Status = models.StatusCancelled
	f.orders[id] = o
	return nil
}

func (f *fakeStore) RecordInvoice(ctx context.Context, invoiceID, orderID, htmlKey, textKey, contentHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoices[invoiceID] = htmlKey
	return nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	puts    int
	putErr  error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte), meta: make(map[string]map[string]string)}
}

func (f *fakeBlobs) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.puts++
	f.objects[bucket+"/"+key] = data
	f.meta[bucket+"/"+key] = metadata
	return nil
}

func (f *fakeBlobs) Exists(ctx context.Context, bucket, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[bucket+"/"+key]
	return ok, nil
}

func (f *fakeStore) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id].Status
}
