package consumers

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/michaelmcclelland/orderflow/internal/cache"
	"github.com/michaelmcclelland/orderflow/internal/database/models"
	"github.com/michaelmcclelland/orderflow/internal/logging"
	"github.com/michaelmcclelland/orderflow/internal/pipeline"
)

var (
	ErrInvalidOrder = errors.New("invalid order")
	// ErrInProgress means another worker is handling the same message.
	ErrInProgress = errors.New("message is being processed elsewhere")
)

const defaultInProgressPause = time.Second

// OrderCreatedConsumer records new orders.
type OrderCreatedConsumer struct {
	store           OrderStore
	dedup           Deduper
	stats           *Stats
	processed       atomic.Int64
	inProgressPause time.Duration
}

type CreateOption func(*OrderCreatedConsumer)

// WithInProgressPause sets how long a redelivered duplicate waits before it
// is requeued while another claim is held.
func WithInProgressPause(d time.Duration) CreateOption {
	return func(c *OrderCreatedConsumer) {
		c.inProgressPause = d
	}
}

// NewOrderCreatedConsumer builds the consumer. dedup and stats may be nil.
func NewOrderCreatedConsumer(store OrderStore, dedup Deduper, stats *Stats, opts ...CreateOption) *OrderCreatedConsumer {
	c := &OrderCreatedConsumer{store: store, dedup: dedup, stats: stats, inProgressPause: defaultInProgressPause}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *OrderCreatedConsumer) Processed() int64 {
	return c.processed.Load()
}

func (c *OrderCreatedConsumer) Process(ctx context.Context, msg OrderCreated) error {
	if err := validateOrder(msg); err != nil {
		return pipeline.Permanent(err)
	}
	logger := logging.FromCtx(ctx).With("order_id", msg.OrderID)

	done, err := claim(ctx, c.dedup, TypeOrderCreated, msg.OrderID, c.inProgressPause)
	if err != nil {
		return err
	}
	if done {
		logger.Info("duplicate order-created, skipping")
		c.stats.skippedOne()
		return nil
	}

	inserted, err := c.store.InsertOrder(ctx, toModel(msg))
	if err != nil {
		release(ctx, c.dedup, TypeOrderCreated, msg.OrderID)
		return pipeline.Transient(fmt.Errorf("storing order %s: %w", msg.OrderID, err))
	}
	if !inserted {
		logger.Info("order already stored")
	}
	complete(ctx, c.dedup, TypeOrderCreated, msg.OrderID)

	c.processed.Add(1)
	c.stats.processedOne()
	logger.Info("order recorded", "items", len(msg.Items), "total_cents", msg.TotalCents())
	return nil
}

func validateOrder(msg OrderCreated) error {
	if msg.OrderID == "" {
		return fmt.Errorf("%w: missing order_id", ErrInvalidOrder)
	}
	if msg.CustomerID == "" {
		return fmt.Errorf("%w: order %s has no customer_id", ErrInvalidOrder, msg.OrderID)
	}
	if len(msg.Items) == 0 {
		return fmt.Errorf("%w: order %s has no items", ErrInvalidOrder, msg.OrderID)
	}
	for i, it := range msg.Items {
		if it.SKU == "" {
			return fmt.Errorf("%w: order %s item %d has no sku", ErrInvalidOrder, msg.OrderID, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: order %s item %d has quantity %d", ErrInvalidOrder, msg.OrderID, i, it.Quantity)
		}
		if it.UnitPriceCents < 0 {
			return fmt.Errorf("%w: order %s item %d has negative price", ErrInvalidOrder, msg.OrderID, i)
		}
	}
	return nil
}

func toModel(msg OrderCreated) models.Order {
	lines := make([]models.OrderLine, len(msg.Items))
	for i, it := range msg.Items {
		lines[i] = models.OrderLine{SKU: it.SKU, Quantity: it.Quantity, UnitPriceCents: it.UnitPriceCents}
	}
	currency := msg.Currency
	if currency == "" {
		currency = "USD"
	}
	return models.Order{
		ID:         msg.OrderID,
		CustomerID: msg.CustomerID,
		Currency:   currency,
		TotalCents: msg.TotalCents(),
		Status:     models.StatusPlaced,
		PlacedAt:   msg.PlacedAt,
		Lines:      lines,
	}
}

// claim reports done=true when the message was already processed. A key held
// by another worker is transient. A redelivered message that still finds the
// key held waits for pause before it is requeued, which throttles the loop a
// stale claim causes until its TTL expires.
func claim(ctx context.Context, d Deduper, scope, id string, pause time.Duration) (bool, error) {
	if d == nil {
		return false, nil
	}
	state, err := d.TryLock(ctx, scope, id)
	if err != nil {
		return false, pipeline.Transient(err)
	}
	switch state {
	case cache.AlreadyDone:
		return true, nil
	case cache.InProgress:
		if pipeline.Redelivered(ctx) && pause > 0 {
			t := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
		return false, pipeline.Transient(fmt.Errorf("%s %s: %w", scope, id, ErrInProgress))
	}
	return false, nil
}

func complete(ctx context.Context, d Deduper, scope, id string) {
	if d == nil {
		return
	}
	if err := d.Complete(ctx, scope, id); err != nil {
		logging.FromCtx(ctx).Warn("failed to mark message done", "scope", scope, "id", id, "error", err)
	}
}

func release(ctx context.Context, d Deduper, scope, id string) {
	if d == nil {
		return
	}
	if err := d.Release(ctx, scope, id); err != nil {
		logging.FromCtx(ctx).Warn("failed to release message claim", "scope", scope, "id", id, "error", err)
	}
}
