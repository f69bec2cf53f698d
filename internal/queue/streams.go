package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultStream      = "stream:orderflow"
	DefaultStreamDLQ   = "stream:orderflow:dlq"
	DefaultStreamGroup = "orderflow-workers"

	// Stream entry fields.
	FieldType        = "type"
	FieldContentType = "content_type"
	FieldPayload     = "payload"
	FieldReason      = "dead_letter_reason"
	FieldSourceID    = "source_id"

	pipelineBatchMax = 500
)

// EnsureStreams creates group on stream, creating the stream when it does
// not exist yet. An existing group is left untouched.
func EnsureStreams(ctx context.Context, rdb *redis.Client, stream, group string, logger *slog.Logger) error {
	err := rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	switch {
	case err == nil:
		logger.Info("created consumer group", "stream", stream, "group", group)
	case redis.HasErrorPrefix(err, "BUSYGROUP"):
		logger.Debug("consumer group exists", "stream", stream, "group", group)
	default:
		return fmt.Errorf("creating group %s on %s: %w", group, stream, err)
	}
	return nil
}

// StreamMessage is one entry to append to a stream.
type StreamMessage struct {
	Type        string
	ContentType string
	Payload     []byte
}

func (m StreamMessage) values() map[string]interface{} {
	return map[string]interface{}{
		FieldType:        m.Type,
		FieldContentType: m.ContentType,
		FieldPayload:     string(m.Payload),
	}
}

// StreamPublisher appends typed messages to a Redis stream.
type StreamPublisher struct {
	rdb    *redis.Client
	stream string
}

func NewStreamPublisher(rdb *redis.Client, stream string) *StreamPublisher {
	return &StreamPublisher{rdb: rdb, stream: stream}
}

// Publish encodes body with codec and appends it. It returns the entry ID.
func (p *StreamPublisher) Publish(ctx context.Context, messageType string, body any, codec Codec) (string, error) {
	data, err := codec.Marshal(body)
	if err != nil {
		return "", &PublishError{Op: "marshal", Err: err}
	}
	msg := StreamMessage{Type: messageType, ContentType: codec.ContentType, Payload: data}
	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{Stream: p.stream, Values: msg.values()}).Result()
	if err != nil {
		return "", &PublishError{Op: "publish", Err: err}
	}
	return id, nil
}

// PublishBatch appends msgs using pipelines of at most pipelineBatchMax entries.
func (p *StreamPublisher) PublishBatch(ctx context.Context, msgs []StreamMessage) error {
	for start := 0; start < len(msgs); start += pipelineBatchMax {
		end := min(start+pipelineBatchMax, len(msgs))

		pipe := p.rdb.Pipeline()
		for _, m := range msgs[start:end] {
			pipe.XAdd(ctx, &redis.XAddArgs{Stream: p.stream, Values: m.values()})
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return &PublishError{Op: "publish", Err: fmt.Errorf("batch %d-%d: %w", start, end, err)}
		}
	}
	return nil
}

func (p *StreamPublisher) StreamLen(ctx context.Context, stream string) (int64, error) {
	return p.rdb.XLen(ctx, stream).Result()
}
