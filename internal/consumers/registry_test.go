package consumers

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/michaelmcclelland/orderflow/internal/pipeline"
	"github.com/michaelmcclelland/orderflow/internal/queue"
)

type outcome struct {
	acked   bool
	nacked  bool
	requeue bool
}

func encoded(t *testing.T, codec queue.Codec, v any) []byte {
	t.Helper()
	b, err := codec.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestSet_RoutesThroughPipeline(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	set := NewSet(store, nil, newFakeBlobs())
	d, err := set.Delegator()
	if err != nil {
		t.Fatalf("Delegator: %v", err)
	}

	var mu sync.Mutex
	outcomes := map[string]*outcome{}
	mk := func(id, msgType string, body []byte) queue.Delivery {
		o := &outcome{}
		outcomes[id] = o
		return queue.Delivery{
			ID:      id,
			Headers: map[string]any{queue.MessageTypeHeader: msgType},
			Body:    body,
			Ack: func() error {
				mu.Lock()
				defer mu.Unlock()
				o.acked = true
				return nil
			},
			Nack: func(requeue bool) error {
				mu.Lock()
				defer mu.Unlock()
				o.nacked, o.requeue = true, requeue
				return nil
			},
		}
	}

	ch := make(chan queue.Delivery, 4)
	ch <- mk("created", TypeOrderCreated, encoded(t, queue.JSON, validOrder()))
	ch <- mk("invoice", TypeInvoiceIssued, encoded(t, queue.YAML, validInvoice()))
	ch <- mk("cancel-unknown", TypeOrderCancelled, encoded(t, queue.JSON, OrderCancelled{OrderID: "o-999"}))
	ch <- mk("garbage", TypeOrderCreated, []byte("not json"))
	close(ch)

	p := pipeline.New(d, pipeline.Config{Workers: 1}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	if o := outcomes["created"]; !o.acked {
		t.Errorf("created = %+v, want ack", o)
	}
	if o := outcomes["invoice"]; !o.acked {
		t.Errorf("invoice = %+v, want ack", o)
	}
	if o := outcomes["cancel-unknown"]; !o.nacked || o.requeue {
		t.Errorf("cancel-unknown = %+v, want nack without requeue", o)
	}
	if o := outcomes["garbage"]; !o.nacked || o.requeue {
		t.Errorf("garbage = %+v, want nack without requeue", o)
	}
	if set.Stats.Processed() != 2 {
		t.Errorf("Stats.Processed() = %d, want 2", set.Stats.Processed())
	}
}

func TestSet_HandlerOrder(t *testing.T) {
	t.Parallel()
	d, err := NewSet(newFakeStore(), nil, newFakeBlobs()).Delegator()
	if err != nil {
		t.Fatalf("Delegator: %v", err)
	}
	want := []string{TypeOrderCreated, TypeOrderCancelled, TypeInvoiceIssued}
	got := d.Types()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Types() = %v, want %v", got, want)
		}
	}
}
