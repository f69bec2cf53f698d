package consumers

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/michaelmcclelland/orderflow/internal/database/models"
	"github.com/michaelmcclelland/orderflow/internal/logging"
	"github.com/michaelmcclelland/orderflow/internal/pipeline"
)

const (
	defaultNotFoundAttempts = 3
	defaultNotFoundDelay    = 200 * time.Millisecond
)

type OrderCancelledConsumer struct {
	store     OrderStore
	stats     *Stats
	processed atomic.Int64

	// A cancel can overtake the order-created message it refers to.
	notFoundAttempts int
	notFoundDelay    time.Duration
}

type CancelOption func(*OrderCancelledConsumer)

// WithNotFoundRetry sets how often a cancel for an unknown order is retried
// in place, and the pause between attempts.
func WithNotFoundRetry(attempts int, delay time.Duration) CancelOption {
	return func(c *OrderCancelledConsumer) {
		c.notFoundAttempts = max(attempts, 1)
		c.notFoundDelay = delay
	}
}

func NewOrderCancelledConsumer(store OrderStore, stats *Stats, opts ...CancelOption) *OrderCancelledConsumer {
	c := &OrderCancelledConsumer{
		store:            store,
		stats:            stats,
		notFoundAttempts: defaultNotFoundAttempts,
		notFoundDelay:    defaultNotFoundDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *OrderCancelledConsumer) Processed() int64 {
	return c.processed.Load()
}

// Process cancels the order. Cancelling twice succeeds. An unknown order is
// requeued on its first delivery and dead-lettered once redelivered.
func (c *OrderCancelledConsumer) Process(ctx context.Context, msg OrderCancelled) error {
	if msg.OrderID == "" {
		return pipeline.Permanent(fmt.Errorf("%w: missing order_id", ErrInvalidOrder))
	}
	logger := logging.FromCtx(ctx).With("order_id", msg.OrderID)

	err := c.cancel(ctx, msg)
	switch {
	case err == nil:
		logger.Info("order cancelled", "reason", msg.Reason)
	case errors.Is(err, models.ErrAlreadyCancelled):
		logger.Info("order already cancelled")
		c.stats.skippedOne()
		return nil
	case errors.Is(err, models.ErrOrderNotFound):
		err = fmt.Errorf("cancelling order %s: %w", msg.OrderID, err)
		if pipeline.Redelivered(ctx) {
			return pipeline.Permanent(err)
		}
		logger.Warn("order not stored yet, requeueing cancel")
		return pipeline.Transient(err)
	default:
		return pipeline.Transient(fmt.Errorf("cancelling order %s: %w", msg.OrderID, err))
	}

	c.processed.Add(1)
	c.stats.processedOne()
	return nil
}

func (c *OrderCancelledConsumer) cancel(ctx context.Context, msg OrderCancelled) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = c.store.CancelOrder(ctx, msg.OrderID, msg.Reason)
		if !errors.Is(err, models.ErrOrderNotFound) || attempt >= c.notFoundAttempts {
			return err
		}
		t := time.NewTimer(c.notFoundDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}
