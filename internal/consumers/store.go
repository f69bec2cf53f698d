package consumers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/michaelmcclelland/orderflow/internal/cache"
	"github.com/michaelmcclelland/orderflow/internal/database/models"
	"github.com/sony/gobreaker"
)

// OrderStore persists orders. models.Orders implements it.
type OrderStore interface {
	InsertOrder(ctx context.Context, o models.Order) (bool, error)
	CancelOrder(ctx context.Context, id, reason string) error
	RecordInvoice(ctx context.Context, invoiceID, orderID, htmlKey, textKey, contentHash string) error
}

// Deduper claims message keys so redeliveries are not applied twice.
// cache.IdempotencyStore implements it.
type Deduper interface {
	TryLock(ctx context.Context, scope, id string) (cache.Claim, error)
	Complete(ctx context.Context, scope, id string) error
	Release(ctx context.Context, scope, id string) error
}

type BreakerSettings struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// GuardedStore wraps an OrderStore in a circuit breaker. Domain outcomes such
// as a missing order do not count as failures.
type GuardedStore struct {
	store OrderStore
	cb    *gobreaker.CircuitBreaker
}

func NewGuardedStore(store OrderStore, s BreakerSettings, logger *slog.Logger) *GuardedStore {
	threshold := uint32(s.FailureThreshold)
	if threshold == 0 {
		threshold = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "order-store",
		MaxRequests: 1,
		Timeout:     s.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, models.ErrOrderNotFound) ||
				errors.Is(err, models.ErrAlreadyCancelled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return &GuardedStore{store: store, cb: cb}
}

func (g *GuardedStore) InsertOrder(ctx context.Context, o models.Order) (bool, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.store.InsertOrder(ctx, o)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (g *GuardedStore) CancelOrder(ctx context.Context, id, reason string) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.store.CancelOrder(ctx, id, reason)
	})
	return err
}

func (g *GuardedStore) RecordInvoice(ctx context.Context, invoiceID, orderID, htmlKey, textKey, contentHash string) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.store.RecordInvoice(ctx, invoiceID, orderID, htmlKey, textKey, contentHash)
	})
	return err
}

// State reports the breaker state for health logging.
func (g *GuardedStore) State() gobreaker.State {
	return g.cb.State()
}
