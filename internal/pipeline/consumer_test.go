package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/michaelmcclelland/orderflow/internal/queue"
)

type testOrder struct {
	OrderID string `json:"order_id" yaml:"order_id"`
	Total   int64  `json:"total" yaml:"total"`
}

func TestRegister_DecodesAndProcesses(t *testing.T) {
	t.Parallel()
	var got testOrder
	h := Register[testOrder]("order-created", queue.JSON, ConsumerFunc[testOrder](func(ctx context.Context, msg testOrder) error {
		got = msg
		return nil
	}))

	if h.MessageType() != "order-created" {
		t.Errorf("MessageType() = %q", h.MessageType())
	}
	if err := h.Handle(context.Background(), []byte(`{"order_id":"o-1","total":1299}`)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got.OrderID != "o-1" || got.Total != 1299 {
		t.Errorf("decoded %+v", got)
	}
}

func TestRegister_YAMLCodec(t *testing.T) {
	t.Parallel()
	var got testOrder
	h := Register[testOrder]("order-created", queue.YAML, ConsumerFunc[testOrder](func(ctx context.Context, msg testOrder) error {
		got = msg
		return nil
	}))

	if err := h.Handle(context.Background(), []byte("order_id: o-2\ntotal: 5\n")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got.OrderID != "o-2" || got.Total != 5 {
		t.Errorf("decoded %+v", got)
	}
}

func TestRegister_DecodeFailureIsPermanent(t *testing.T) {
	t.Parallel()
	called := false
	h := Register[testOrder]("order-created", queue.JSON, ConsumerFunc[testOrder](func(ctx context.Context, msg testOrder) error {
		called = true
		return nil
	}))

	err := h.Handle(context.Background(), []byte(`{not json`))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DecodeError", err)
	}
	if de.Type != "order-created" {
		t.Errorf("DecodeError.Type = %q", de.Type)
	}
	if DecisionFor(err) != DoNotRequeue {
		t.Error("decode failures must not be requeued")
	}
	if called {
		t.Error("Process should not run when decoding fails")
	}
}

func TestRegister_PassesBusinessErrorThrough(t *testing.T) {
	t.Parallel()
	want := Transient(errors.New("inventory service unavailable"))
	h := Register[testOrder]("order-created", queue.JSON, ConsumerFunc[testOrder](func(ctx context.Context, msg testOrder) error {
		return want
	}))

	if err := h.Handle(context.Background(), []byte(`{"order_id":"o-1"}`)); err != want {
		t.Errorf("Handle() = %v, want business error unchanged", err)
	}
}
