package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultBlock           = 5 * time.Second
	defaultReclaimInterval = 30 * time.Second
	defaultReclaimMinIdle  = 60 * time.Second
	defaultMaxDeliveries   = 5
	reclaimBatchSize       = 50
	settleTimeout          = 5 * time.Second

	// Dead-letter reasons recorded on DLQ entries.
	ReasonRejected      = "rejected"
	ReasonMaxDeliveries = "max-deliveries"
)

// StreamConsumerConfig describes one consumer-group member.
type StreamConsumerConfig struct {
	Stream   string
	DLQ      string
	Group    string
	Consumer string
	Count    int

	Block           time.Duration
	ReclaimInterval time.Duration
	ReclaimMinIdle  time.Duration
	// MaxDeliveries bounds how often a pending entry is handed out before it
	// is dead-lettered by the reclaim loop.
	MaxDeliveries int64
}

func (c StreamConsumerConfig) withDefaults() StreamConsumerConfig {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.DLQ == "" {
		c.DLQ = DefaultStreamDLQ
	}
	if c.Group == "" {
		c.Group = DefaultStreamGroup
	}
	if c.Count <= 0 {
		c.Count = 10
	}
	if c.Block <= 0 {
		c.Block = defaultBlock
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = defaultReclaimInterval
	}
	if c.ReclaimMinIdle <= 0 {
		c.ReclaimMinIdle = defaultReclaimMinIdle
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = defaultMaxDeliveries
	}
	return c
}

// StreamConsumer turns a Redis stream consumer group into a Delivery
// channel with the same ack/nack contract as the AMQP consumer.
type StreamConsumer struct {
	rdb    *redis.Client
	cfg    StreamConsumerConfig
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewStreamConsumer(rdb *redis.Client, cfg StreamConsumerConfig, logger *slog.Logger) *StreamConsumer {
	cfg = cfg.withDefaults()
	return &StreamConsumer{
		rdb:    rdb,
		cfg:    cfg,
		logger: logger.With("stream", cfg.Stream, "group", cfg.Group, "consumer", cfg.Consumer),
	}
}

// Run starts the read and reclaim loops. The returned channel closes once
// ctx is cancelled and both loops have exited. Entries read but not handed
// out before cancellation stay pending for a later reclaim.
func (c *StreamConsumer) Run(ctx context.Context) <-chan Delivery {
	ch := make(chan Delivery)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.readLoop(ctx, ch)
	}()
	go func() {
		defer c.wg.Done()
		c.reclaimLoop(ctx, ch)
	}()
	go func() {
		c.wg.Wait()
		close(ch)
	}()

	return ch
}

// Wait blocks until both loops have exited.
func (c *StreamConsumer) Wait() {
	c.wg.Wait()
}

func (c *StreamConsumer) readLoop(ctx context.Context, ch chan<- Delivery) {
	failures := 0
	for ctx.Err() == nil {
		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    int64(c.cfg.Count),
			Block:    c.cfg.Block,
		}).Result()
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, redis.Nil):
			failures = 0
			continue
		case err != nil:
			wait := backoffDuration(failures)
			failures++
			c.logger.Error("reading consumer group", "error", err, "retry_in", wait)
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}
		failures = 0

		for _, stream := range streams {
			if !c.emit(ctx, ch, stream.Messages, false) {
				return
			}
		}
	}
}

func (c *StreamConsumer) reclaimLoop(ctx context.Context, ch chan<- Delivery) {
	ticker := time.NewTicker(c.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reclaimPending(ctx, ch)
		}
	}
}

// reclaimPending claims one batch of entries that have sat idle in any
// member's pending list. Entries already delivered MaxDeliveries times are
// dead-lettered; the rest are re-delivered marked as redelivered.
func (c *StreamConsumer) reclaimPending(ctx context.Context, ch chan<- Delivery) {
	pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.cfg.Stream,
		Group:  c.cfg.Group,
		Idle:   c.cfg.ReclaimMinIdle,
		Start:  "-",
		End:    "+",
		Count:  reclaimBatchSize,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("listing pending entries", "error", err)
		}
		return
	}
	if len(pending) == 0 {
		return
	}

	ids := make([]string, 0, len(pending))
	deliveries := make(map[string]int64, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
		deliveries[p.ID] = p.RetryCount
	}

	msgs, err := c.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  c.cfg.ReclaimMinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("claiming pending entries", "error", err, "count", len(ids))
		}
		return
	}

	retry := msgs[:0]
	for _, msg := range msgs {
		if n := deliveries[msg.ID]; n >= c.cfg.MaxDeliveries {
			c.logger.Warn("dead-lettering entry", "id", msg.ID, "deliveries", n)
			if err := c.deadLetter(msg, ReasonMaxDeliveries); err != nil {
				c.logger.Error("dead-lettering entry", "id", msg.ID, "error", err)
			}
			continue
		}
		retry = append(retry, msg)
	}
	if len(retry) > 0 {
		c.logger.Info("reclaimed pending entries", "count", len(retry))
	}
	c.emit(ctx, ch, retry, true)
}

// emit hands msgs to ch in order. It reports false when ctx was cancelled
// before every entry was handed out.
func (c *StreamConsumer) emit(ctx context.Context, ch chan<- Delivery, msgs []redis.XMessage, redelivered bool) bool {
	for _, msg := range msgs {
		d, ok := c.buildDelivery(msg, redelivered)
		if !ok {
			continue
		}
		select {
		case ch <- d:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// buildDelivery converts a stream entry. Entries without a payload can
// never be processed; they are acked and skipped.
func (c *StreamConsumer) buildDelivery(msg redis.XMessage, redelivered bool) (Delivery, bool) {
	payload, ok := msg.Values[FieldPayload].(string)
	if !ok || payload == "" {
		c.logger.Error("entry missing payload field", "id", msg.ID)
		if err := c.ack(msg.ID); err != nil {
			c.logger.Error("acking empty entry", "id", msg.ID, "error", err)
		}
		return Delivery{}, false
	}

	headers := make(map[string]any, 2)
	if t, ok := msg.Values[FieldType].(string); ok {
		headers[MessageTypeHeader] = t
	}
	if ct, ok := msg.Values[FieldContentType].(string); ok {
		headers[ContentTypeHeader] = ct
	}

	return Delivery{
		ID:          msg.ID,
		Headers:     headers,
		Body:        []byte(payload),
		Redelivered: redelivered,
		Ack: func() error {
			return c.ack(msg.ID)
		},
		Nack: func(requeue bool) error {
			if requeue {
				// Left pending; the reclaim loop hands it out again.
				return nil
			}
			return c.deadLetter(msg, ReasonRejected)
		},
	}, true
}

// Settlement runs on a fresh context so in-flight work can still be acked
// after shutdown begins.
func (c *StreamConsumer) ack(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	return c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err()
}

// deadLetter copies msg to the DLQ and acks it in one MULTI block.
func (c *StreamConsumer) deadLetter(msg redis.XMessage, reason string) error {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	values := maps.Clone(msg.Values)
	if values == nil {
		values = make(map[string]interface{}, 2)
	}
	values[FieldReason] = reason
	values[FieldSourceID] = msg.ID

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: c.cfg.DLQ, Values: values})
		pipe.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dead-lettering %s to %s: %w", msg.ID, c.cfg.DLQ, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
