package seeder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/michaelmcclelland/orderflow/internal/queue"
)

// maxLineBytes caps one event line; invoices embed whole documents.
const maxLineBytes = 4 * 1024 * 1024

// Event is one line of an events file.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Target publishes an encoded event.
type Target interface {
	Publish(ctx context.Context, messageType string, body any, codec queue.Codec) error
}

// AMQPTarget publishes to an exchange with broker confirmation.
type AMQPTarget struct {
	Publisher *queue.Publisher
	Exchange  string
}

func (t AMQPTarget) Publish(ctx context.Context, messageType string, body any, codec queue.Codec) error {
	_, err := t.Publisher.Publish(ctx, t.Exchange, messageType, body, codec)
	return err
}

// StreamTarget appends to a Redis stream.
type StreamTarget struct {
	Publisher *queue.StreamPublisher
}

func (t StreamTarget) Publish(ctx context.Context, messageType string, body any, codec queue.Codec) error {
	_, err := t.Publisher.Publish(ctx, messageType, body, codec)
	return err
}

// Result counts what LoadAndPublish did.
type Result struct {
	Published int
	Skipped   int
}

// LoadAndPublish reads JSON-lines events from path and publishes each one with
// the codec registered for its type, JSON when none is. Blank lines and lines
// starting with # are ignored; malformed lines are logged and skipped.
func LoadAndPublish(ctx context.Context, path string, target Target, codecs map[string]queue.Codec, logger *slog.Logger) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("opening events file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var res Result
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			logger.Warn("invalid event line", "line", lineNo, "error", err)
			res.Skipped++
			continue
		}
		if ev.Type == "" || len(ev.Payload) == 0 {
			logger.Warn("event missing type or payload", "line", lineNo)
			res.Skipped++
			continue
		}

		codec, ok := codecs[ev.Type]
		if !ok {
			codec = queue.JSON
		}
		body, err := bodyFor(ev.Payload, codec)
		if err != nil {
			logger.Warn("cannot re-encode payload", "line", lineNo, "type", ev.Type, "error", err)
			res.Skipped++
			continue
		}

		if err := target.Publish(ctx, ev.Type, body, codec); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			logger.Error("failed to publish event", "line", lineNo, "type", ev.Type, "error", err)
			res.Skipped++
			continue
		}

		res.Published++
		logger.Debug("published event", "line", lineNo, "type", ev.Type)
	}

	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("reading events file: %w", err)
	}

	logger.Info("publishing complete", "published", res.Published, "skipped", res.Skipped)
	return res, nil
}

// bodyFor passes JSON payloads through untouched and decodes them into
// generic values for other codecs.
func bodyFor(payload json.RawMessage, codec queue.Codec) (any, error) {
	if codec.ContentType == queue.JSON.ContentType {
		return payload, nil
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}
