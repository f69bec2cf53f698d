package queue

import (
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageTypeHeader names the header every delivery must carry to be routed.
const MessageTypeHeader = "message_type"

// Delivery is a transport-agnostic message envelope.
type Delivery struct {
	ID          string
	Headers     map[string]any
	Body        []byte
	Redelivered bool
	Ack         func() error
	Nack        func(requeue bool) error
}

// MessageType returns the value of the message type header.
// It reports false when the header is absent, empty, or not a string.
func (d Delivery) MessageType() (string, bool) {
	v, ok := d.Headers[MessageTypeHeader]
	if !ok {
		return "", false
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return "", false
	}
	return s, s != ""
}

func fromAMQP(d amqp.Delivery) Delivery {
	headers := make(map[string]any, len(d.Headers))
	for k, v := range d.Headers {
		headers[k] = v
	}
	return Delivery{
		ID:          strconv.FormatUint(d.DeliveryTag, 10),
		Headers:     headers,
		Body:        d.Body,
		Redelivered: d.Redelivered,
		Ack: func() error {
			return d.Ack(false)
		},
		Nack: func(requeue bool) error {
			return d.Nack(false, requeue)
		},
	}
}
