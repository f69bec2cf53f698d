package pipeline

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoMatch is matched by every NoMatchError.
	ErrNoMatch = errors.New("no consumer registered for message type")
	// ErrMissingType is reported for deliveries without a message type header.
	ErrMissingType = errors.New("delivery has no message type header")
)

// NoMatchError is returned when no handler is registered for Type.
type NoMatchError struct {
	Type string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("%v: %q", ErrNoMatch, e.Type)
}

func (e *NoMatchError) Is(target error) bool {
	return target == ErrNoMatch
}

func (e *NoMatchError) ShouldRequeue() Decision {
	return DoNotRequeue
}

// Handler processes the raw body of one message type.
type Handler interface {
	MessageType() string
	Handle(ctx context.Context, body []byte) error
}

// Delegator routes a body to the handler registered for its message type.
// It is immutable after construction and safe for concurrent use.
type Delegator struct {
	handlers []Handler
}

// NewDelegator keeps handlers in registration order. Empty or duplicate
// message types are rejected.
func NewDelegator(handlers ...Handler) (*Delegator, error) {
	seen := make(map[string]struct{}, len(handlers))
	for i, h := range handlers {
		if h == nil {
			return nil, fmt.Errorf("handler %d is nil", i)
		}
		t := h.MessageType()
		if t == "" {
			return nil, fmt.Errorf("handler %d has an empty message type", i)
		}
		if _, dup := seen[t]; dup {
			return nil, fmt.Errorf("message type %q registered twice", t)
		}
		seen[t] = struct{}{}
	}
	return &Delegator{handlers: append([]Handler(nil), handlers...)}, nil
}

// Delegate invokes the first handler whose message type equals messageType.
func (d *Delegator) Delegate(ctx context.Context, messageType string, body []byte) error {
	for _, h := range d.handlers {
		if h.MessageType() == messageType {
			return h.Handle(ctx, body)
		}
	}
	return &NoMatchError{Type: messageType}
}

// Types returns the registered message types in order.
func (d *Delegator) Types() []string {
	types := make([]string, len(d.handlers))
	for i, h := range d.handlers {
		types[i] = h.MessageType()
	}
	return types
}

func (d *Delegator) registered(messageType string) bool {
	for _, h := range d.handlers {
		if h.MessageType() == messageType {
			return true
		}
	}
	return false
}
