package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPublishNacked is returned when the broker negatively confirms a publishing.
var ErrPublishNacked = errors.New("broker nacked publishing")

// Confirmation is the broker's answer to one confirmed publishing.
type Confirmation struct {
	DeliveryTag uint64
	Acked       bool
}

// PublishError reports which step of a publish failed: "marshal", "publish" or "confirm".
type PublishError struct {
	Op  string
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s message: %v", e.Op, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

type Publisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

// NewPublisher opens a dedicated channel in confirm mode.
func NewPublisher(conn *Connection) (*Publisher, error) {
	ch, err := conn.NewPublishChannel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enabling confirm mode: %w", err)
	}
	return &Publisher{ch: ch}, nil
}

// Publish encodes body with codec and publishes it to exchange tagged with
// messageType. It blocks until the broker confirms or ctx is done.
func (p *Publisher) Publish(ctx context.Context, exchange, messageType string, body any, codec Codec) (Confirmation, error) {
	data, err := codec.Marshal(body)
	if err != nil {
		return Confirmation{}, &PublishError{Op: "marshal", Err: err}
	}

	p.mu.Lock()
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, "", false, false, newPublishing(messageType, data, codec))
	p.mu.Unlock()
	if err != nil {
		return Confirmation{}, &PublishError{Op: "publish", Err: err}
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return Confirmation{}, &PublishError{Op: "confirm", Err: err}
	}
	conf := Confirmation{DeliveryTag: dc.DeliveryTag, Acked: acked}
	if !acked {
		return conf, &PublishError{Op: "confirm", Err: ErrPublishNacked}
	}
	return conf, nil
}

func (p *Publisher) PublishJSON(ctx context.Context, exchange, messageType string, body any) (Confirmation, error) {
	return p.Publish(ctx, exchange, messageType, body, JSON)
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
}

func newPublishing(messageType string, body []byte, codec Codec) amqp.Publishing {
	return amqp.Publishing{
		Headers: amqp.Table{
			MessageTypeHeader: messageType,
			ContentTypeHeader: codec.ContentType,
		},
		ContentType:  codec.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Type:         messageType,
		Body:         body,
	}
}
