package pipeline

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
)

type countingHandler struct {
	msgType string
	calls   atomic.Int32
	err     error
}

func (h *countingHandler) MessageType() string { return h.msgType }

func (h *countingHandler) Handle(ctx context.Context, body []byte) error {
	h.calls.Add(1)
	return h.err
}

func TestDelegate_InvokesOnlyMatchingHandler(t *testing.T) {
	t.Parallel()
	created := &countingHandler{msgType: "order-created"}
	cancelled := &countingHandler{msgType: "order-cancelled"}

	d, err := NewDelegator(created, cancelled)
	if err != nil {
		t.Fatalf("NewDelegator: %v", err)
	}

	if err := d.Delegate(context.Background(), "order-cancelled", []byte(`{}`)); err != nil {
		t.Fatalf("Delegate: %v", err)
	}
	if created.calls.Load() != 0 {
		t.Errorf("order-created handler called %d times, want 0", created.calls.Load())
	}
	if cancelled.calls.Load() != 1 {
		t.Errorf("order-cancelled handler called %d times, want 1", cancelled.calls.Load())
	}
}

func TestDelegate_NoMatch(t *testing.T) {
	t.Parallel()
	h := &countingHandler{msgType: "order-created"}
	d, err := NewDelegator(h)
	if err != nil {
		t.Fatalf("NewDelegator: %v", err)
	}

	err = d.Delegate(context.Background(), "unknown", nil)
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
	var nm *NoMatchError
	if !errors.As(err, &nm) || nm.Type != "unknown" {
		t.Errorf("err = %#v, want NoMatchError for unknown", err)
	}
	if DecisionFor(err) != DoNotRequeue {
		t.Error("no match must not be requeued")
	}
	if h.calls.Load() != 0 {
		t.Error("handler should not be invoked on no match")
	}
}

func TestDelegate_ReturnsHandlerError(t *testing.T) {
	t.Parallel()
	want := Transient(errors.New("db down"))
	d, err := NewDelegator(&countingHandler{msgType: "order-created", err: want})
	if err != nil {
		t.Fatalf("NewDelegator: %v", err)
	}
	if got := d.Delegate(context.Background(), "order-created", nil); got != want {
		t.Errorf("Delegate() = %v, want handler error", got)
	}
}

func TestNewDelegator_RejectsBadRegistrations(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		handlers []Handler
	}{
		{"duplicate type", []Handler{&countingHandler{msgType: "a"}, &countingHandler{msgType: "a"}}},
		{"empty type", []Handler{&countingHandler{msgType: ""}}},
		{"nil handler", []Handler{nil}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewDelegator(tt.handlers...); err == nil {
				t.Error("expected configuration error")
			}
		})
	}
}

func TestDelegatorTypes(t *testing.T) {
	t.Parallel()
	d, err := NewDelegator(
		&countingHandler{msgType: "order-created"},
		&countingHandler{msgType: "order-cancelled"},
		&countingHandler{msgType: "invoice-issued"},
	)
	if err != nil {
		t.Fatalf("NewDelegator: %v", err)
	}
	want := []string{"order-created", "order-cancelled", "invoice-issued"}
	if got := d.Types(); !reflect.DeepEqual(got, want) {
		t.Errorf("Types() = %v, want %v", got, want)
	}
}
