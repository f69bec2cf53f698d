package consumers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/michaelmcclelland/orderflow/internal/database/models"
	"github.com/michaelmcclelland/orderflow/internal/pipeline"
	"github.com/sony/gobreaker"
)

func TestGuardedStore_TripsOnConsecutiveFailures(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	store.insertErr = errors.New("connection refused")
	guarded := NewGuardedStore(store, BreakerSettings{FailureThreshold: 2, ResetTimeout: time.Minute}, testLogger())
	c := NewOrderCreatedConsumer(guarded, nil, nil)

	for i := 0; i < 2; i++ {
		if err := c.Process(context.Background(), validOrder()); pipeline.DecisionFor(err) != pipeline.Requeue {
			t.Fatalf("attempt %d: err = %v, want requeue", i, err)
		}
	}
	if guarded.State() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", guarded.State())
	}

	err := c.Process(context.Background(), validOrder())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("err = %v, want ErrOpenState", err)
	}
	if pipeline.DecisionFor(err) != pipeline.Requeue {
		t.Error("an open breaker should requeue")
	}
	if store.inserts != 2 {
		t.Errorf("store inserts = %d, want 2 (open breaker short-circuits)", store.inserts)
	}
}

func TestGuardedStore_DomainErrorsDoNotTrip(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	guarded := NewGuardedStore(store, BreakerSettings{FailureThreshold: 1, ResetTimeout: time.Minute}, testLogger())

	for i := 0; i < 3; i++ {
		err := guarded.CancelOrder(context.Background(), "o-404", "")
		if !errors.Is(err, models.ErrOrderNotFound) {
			t.Fatalf("err = %v, want ErrOrderNotFound", err)
		}
	}
	if guarded.State() != gobreaker.StateClosed {
		t.Errorf("breaker state = %v, want closed", guarded.State())
	}
}

func TestGuardedStore_PassesResults(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	guarded := NewGuardedStore(store, BreakerSettings{}, testLogger())

	inserted, err := guarded.InsertOrder(context.Background(), models.Order{ID: "o-1"})
	if err != nil || !inserted {
		t.Fatalf("InsertOrder = %v, %v; want true, nil", inserted, err)
	}
	inserted, err = guarded.InsertOrder(context.Background(), models.Order{ID: "o-1"})
	if err != nil || inserted {
		t.Errorf("second InsertOrder = %v, %v; want false, nil", inserted, err)
	}
	if err := guarded.RecordInvoice(context.Background(), "inv-1", "o-1", "h", "t", "x"); err != nil {
		t.Errorf("RecordInvoice: %v", err)
	}
}
