package consumers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"github.com/michaelmcclelland/orderflow/internal/logging"
	"github.com/michaelmcclelland/orderflow/internal/pipeline"
	"github.com/michaelmcclelland/orderflow/internal/storage"
)

var ErrInvalidInvoice = errors.New("invalid invoice")

// BlobStore archives invoice documents. storage.MinIOClient implements it.
type BlobStore interface {
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
}

// InvoiceConsumer archives issued invoices and their text rendering.
type InvoiceConsumer struct {
	blobs     BlobStore
	store     OrderStore
	stats     *Stats
	processed atomic.Int64
}

func NewInvoiceConsumer(blobs BlobStore, store OrderStore, stats *Stats) *InvoiceConsumer {
	return &InvoiceConsumer{blobs: blobs, store: store, stats: stats}
}

func (c *InvoiceConsumer) Processed() int64 {
	return c.processed.Load()
}

func (c *InvoiceConsumer) Process(ctx context.Context, msg InvoiceIssued) error {
	if msg.InvoiceID == "" {
		return pipeline.Permanent(fmt.Errorf("%w: missing invoice_id", ErrInvalidInvoice))
	}
	if strings.TrimSpace(msg.HTML) == "" {
		return pipeline.Permanent(fmt.Errorf("%w: invoice %s has no document", ErrInvalidInvoice, msg.InvoiceID))
	}
	if len(msg.HTML) > storage.MaxObjectSize {
		return pipeline.Permanent(fmt.Errorf("%w: invoice %s: %w", ErrInvalidInvoice, msg.InvoiceID, storage.ErrObjectTooLarge))
	}
	logger := logging.FromCtx(ctx).With("invoice_id", msg.InvoiceID, "order_id", msg.OrderID)

	raw := []byte(msg.HTML)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(msg.HTML))
	if err != nil {
		return pipeline.Permanent(fmt.Errorf("%w: parsing invoice %s: %w", ErrInvalidInvoice, msg.InvoiceID, err))
	}
	total, hasTotal := invoiceTotal(doc)
	text := ExtractText(doc)
	if text == "" {
		return pipeline.Permanent(fmt.Errorf("%w: invoice %s has no visible text", ErrInvalidInvoice, msg.InvoiceID))
	}

	meta := map[string]string{
		"invoice-id":  msg.InvoiceID,
		"order-id":    msg.OrderID,
		"customer-id": msg.CustomerID,
	}
	if hasTotal {
		meta["total"] = total
	}

	htmlKey := storage.InvoiceHTMLKey(msg.CustomerID, msg.InvoiceID, raw)
	if err := c.putOnce(ctx, storage.InvoiceBucket, htmlKey, raw, "text/html", meta); err != nil {
		return pipeline.Transient(err)
	}
	textKey := storage.InvoiceTextKey(msg.CustomerID, msg.InvoiceID, raw)
	if err := c.putOnce(ctx, storage.InvoiceTextBucket, textKey, []byte(text), "text/plain; charset=utf-8", meta); err != nil {
		return pipeline.Transient(err)
	}

	if c.store != nil {
		if err := c.store.RecordInvoice(ctx, msg.InvoiceID, msg.OrderID, htmlKey, textKey, storage.ContentHash(raw)); err != nil {
			return pipeline.Transient(fmt.Errorf("recording invoice %s: %w", msg.InvoiceID, err))
		}
	}

	c.processed.Add(1)
	c.stats.processedOne()
	logger.Info("invoice archived", "html_key", htmlKey, "text_bytes", len(text))
	return nil
}

// putOnce skips the upload when the content-addressed key already exists.
func (c *InvoiceConsumer) putOnce(ctx context.Context, bucket, key string, data []byte, contentType string, meta map[string]string) error {
	exists, err := c.blobs.Exists(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("checking %s/%s: %w", bucket, key, err)
	}
	if exists {
		return nil
	}
	return c.blobs.PutObject(ctx, bucket, key, data, contentType, meta)
}
