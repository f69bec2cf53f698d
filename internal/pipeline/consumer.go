package pipeline

import (
	"context"
	"fmt"

	"github.com/michaelmcclelland/orderflow/internal/queue"
)

// Consumer runs business logic for one decoded message type.
// Implementations must be safe for concurrent use by every worker.
type Consumer[T any] interface {
	Process(ctx context.Context, msg T) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc[T any] func(ctx context.Context, msg T) error

func (f ConsumerFunc[T]) Process(ctx context.Context, msg T) error {
	return f(ctx, msg)
}

// DecodeError reports a body that could not be decoded. It is never requeued.
type DecodeError struct {
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) ShouldRequeue() Decision {
	return DoNotRequeue
}

type typedHandler[T any] struct {
	messageType string
	codec       queue.Codec
	consumer    Consumer[T]
}

// Register binds a typed consumer to messageType. Bodies are decoded into a
// fresh T with codec before Process is called.
func Register[T any](messageType string, codec queue.Codec, c Consumer[T]) Handler {
	return &typedHandler[T]{messageType: messageType, codec: codec, consumer: c}
}

func (h *typedHandler[T]) MessageType() string {
	return h.messageType
}

func (h *typedHandler[T]) Handle(ctx context.Context, body []byte) error {
	var msg T
	if err := h.codec.Unmarshal(body, &msg); err != nil {
		return &DecodeError{Type: h.messageType, Err: err}
	}
	return h.consumer.Process(ctx, msg)
}
