package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/michaelmcclelland/orderflow/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange    = "orderflow.events"
	DefaultQueue       = "orderflow.consumer"
	DefaultConsumerTag = "orderflow-consumer"
	DefaultDLXExchange = "orderflow.dlx"
	DefaultDLQ         = "orderflow.dlq"

	// ContentTypeHeader mirrors the publishing ContentType property as a header
	// so header-exchange bindings can match on it.
	ContentTypeHeader = "content-type"
)

// Topology describes the exchange, queue and binding the consumer relies on.
// DLXExchange and DLQ are optional; when both are set, rejected deliveries are
// dead-lettered there instead of being dropped.
type Topology struct {
	Exchange    string
	Queue       string
	DLXExchange string
	DLQ         string
}

// DefaultTopology returns the names used when nothing is configured.
func DefaultTopology() Topology {
	return Topology{
		Exchange:    DefaultExchange,
		Queue:       DefaultQueue,
		DLXExchange: DefaultDLXExchange,
		DLQ:         DefaultDLQ,
	}
}

// TopologyFromConfig builds the topology a pipeline config names. Dead
// lettering is dropped when the config disables it.
func TopologyFromConfig(c config.PipelineConfig) Topology {
	t := Topology{Exchange: c.Exchange, Queue: c.Queue}
	if c.DeadLetter == nil || *c.DeadLetter {
		t.DLXExchange = c.DeadLetterExchange
		t.DLQ = c.DeadLetterQueue
	}
	return t
}

// declarer is the subset of *amqp.Channel used to declare topology.
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

type Connection struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

func Dial(url string, logger *slog.Logger) (*Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	return &Connection{conn: conn, channel: ch, logger: logger}, nil
}

// Setup declares the topology. It is safe to call repeatedly.
func (c *Connection) Setup(t Topology) error {
	return declareTopology(c.channel, t)
}

func matchAll() amqp.Table {
	return amqp.Table{"x-match": "all"}
}

func declareTopology(ch declarer, t Topology) error {
	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeHeaders, true, false, false, false, matchAll()); err != nil {
		return fmt.Errorf("declaring exchange %s: %w", t.Exchange, err)
	}

	var queueArgs amqp.Table
	deadLetter := t.DLXExchange != "" && t.DLQ != ""
	if deadLetter {
		if err := ch.ExchangeDeclare(t.DLXExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring DLX exchange %s: %w", t.DLXExchange, err)
		}
		if _, err := ch.QueueDeclare(t.DLQ, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declaring DLQ %s: %w", t.DLQ, err)
		}
		if err := ch.QueueBind(t.DLQ, "", t.DLXExchange, false, nil); err != nil {
			return fmt.Errorf("binding DLQ %s: %w", t.DLQ, err)
		}
		queueArgs = amqp.Table{"x-dead-letter-exchange": t.DLXExchange}
	}

	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, queueArgs); err != nil {
		return fmt.Errorf("declaring queue %s: %w", t.Queue, err)
	}
	// An x-match=all binding with no other keys matches every message on the exchange.
	if err := ch.QueueBind(t.Queue, "", t.Exchange, false, matchAll()); err != nil {
		return fmt.Errorf("binding queue %s: %w", t.Queue, err)
	}

	return nil
}

// SetPrefetch sets QoS prefetch count on the channel.
func (c *Connection) SetPrefetch(count int) error {
	return c.channel.Qos(count, 0, false)
}

// NewPublishChannel opens a new channel for publishing (separate from consume channel).
func (c *Connection) NewPublishChannel() (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening publish channel: %w", err)
	}
	return ch, nil
}

func (c *Connection) NotifyClose() chan *amqp.Error {
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

func (c *Connection) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// Consume registers a manual-ack consumer on queue and returns its deliveries.
// When ctx is cancelled the consumer is cancelled on the broker; deliveries the
// client already holds are nacked with requeue and the returned channel closes.
// Acks for deliveries handed out before that keep working until Close.
func (c *Connection) Consume(ctx context.Context, queue, tag string) (<-chan Delivery, error) {
	if tag == "" {
		tag = DefaultConsumerTag + "-" + uuid.NewString()
	}

	msgs, err := c.channel.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consuming %s: %w", queue, err)
	}

	logger := c.logger.With("queue", queue, "consumer_tag", tag)
	out := make(chan Delivery)
	go func() {
		defer close(out)
		forwardDeliveries(ctx, logger, msgs, out, func() {
			c.stopConsumer(logger, tag, msgs)
		})
	}()

	logger.Info("consumer registered")
	return out, nil
}

// forwardDeliveries copies msgs to out until ctx is cancelled or the broker
// closes msgs. On cancellation a delivery already taken from msgs is nacked
// with requeue and stop is called to cancel the consumer.
func forwardDeliveries(ctx context.Context, logger *slog.Logger, msgs <-chan amqp.Delivery, out chan<- Delivery, stop func()) {
	for {
		select {
		case <-ctx.Done():
			stop()
			return
		case d, ok := <-msgs:
			if !ok {
				logger.Warn("delivery stream closed by broker")
				return
			}
			select {
			case out <- fromAMQP(d):
			case <-ctx.Done():
				if err := d.Nack(false, true); err != nil {
					logger.Error("failed to return delivery", "delivery", d.DeliveryTag, "error", err)
				}
				stop()
				return
			}
		}
	}
}

func (c *Connection) stopConsumer(logger *slog.Logger, tag string, msgs <-chan amqp.Delivery) {
	if err := c.channel.Cancel(tag, false); err != nil {
		logger.Error("failed to cancel consumer", "error", err)
		return
	}
	returned := 0
	for d := range msgs {
		if err := d.Nack(false, true); err != nil {
			logger.Error("failed to return delivery", "delivery", d.DeliveryTag, "error", err)
			continue
		}
		returned++
	}
	logger.Info("consumer cancelled", "returned", returned)
}
