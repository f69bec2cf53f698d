package queue

import (
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestNewPublishing_Headers(t *testing.T) {
	t.Parallel()
	p := newPublishing("order-created", []byte(`{"order_id":"o-1"}`), JSON)

	if p.Headers[MessageTypeHeader] != "order-created" {
		t.Errorf("message type header = %v, want order-created", p.Headers[MessageTypeHeader])
	}
	if p.Headers[ContentTypeHeader] != "application/json" {
		t.Errorf("content-type header = %v, want application/json", p.Headers[ContentTypeHeader])
	}
	if p.ContentType != "application/json" {
		t.Errorf("ContentType = %q, want application/json", p.ContentType)
	}
	if p.DeliveryMode != amqp.Persistent {
		t.Errorf("DeliveryMode = %d, want persistent", p.DeliveryMode)
	}
	if p.MessageId == "" {
		t.Error("MessageId should be set")
	}
	if err := p.Headers.Validate(); err != nil {
		t.Errorf("headers are not a valid AMQP table: %v", err)
	}
}

func TestNewPublishing_YAMLCodec(t *testing.T) {
	t.Parallel()
	p := newPublishing("invoice-issued", []byte("invoice_id: i-1\n"), YAML)
	if p.ContentType != "application/yaml" {
		t.Errorf("ContentType = %q, want application/yaml", p.ContentType)
	}
}

func TestPublishError_Unwrap(t *testing.T) {
	t.Parallel()
	err := error(&PublishError{Op: "confirm", Err: ErrPublishNacked})
	if !errors.Is(err, ErrPublishNacked) {
		t.Error("PublishError should unwrap to its cause")
	}
	if err.Error() != "confirm message: broker nacked publishing" {
		t.Errorf("Error() = %q", err.Error())
	}
}
