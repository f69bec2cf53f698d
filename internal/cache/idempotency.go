package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyPrefix = "idem:"

	stateProcessing = "processing"
	stateDone       = "done"

	// processingTTL bounds how long a crashed worker can hold a key.
	processingTTL = 5 * time.Minute
)

// Claim is the result of trying to take ownership of a message key.
type Claim int

const (
	// Claimed means the caller owns the key and must Complete or Release it.
	Claimed Claim = iota
	// AlreadyDone means the message was processed before.
	AlreadyDone
	// InProgress means another worker currently holds the key.
	InProgress
)

func (c Claim) String() string {
	switch c {
	case Claimed:
		return "claimed"
	case AlreadyDone:
		return "already-done"
	case InProgress:
		return "in-progress"
	}
	return fmt.Sprintf("claim(%d)", int(c))
}

// IdempotencyStore records processed message keys in Redis so redelivered
// messages are recognised.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{client: client, ttl: ttl}
}

func idempotencyKey(scope, id string) string {
	return idempotencyKeyPrefix + scope + ":" + id
}

// TryLock claims scope/id for processing.
func (s *IdempotencyStore) TryLock(ctx context.Context, scope, id string) (Claim, error) {
	key := idempotencyKey(scope, id)

	ok, err := s.client.SetNX(ctx, key, stateProcessing, processingTTL).Result()
	if err != nil {
		return InProgress, fmt.Errorf("claiming %s: %w", key, err)
	}
	if ok {
		return Claimed, nil
	}

	state, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		ok, err = s.client.SetNX(ctx, key, stateProcessing, processingTTL).Result()
		if err != nil {
			return InProgress, fmt.Errorf("claiming %s: %w", key, err)
		}
		if ok {
			return Claimed, nil
		}
		return InProgress, nil
	}
	if err != nil {
		return InProgress, fmt.Errorf("reading %s: %w", key, err)
	}
	if state == stateDone {
		return AlreadyDone, nil
	}
	return InProgress, nil
}

// Complete marks scope/id as processed for the store's TTL.
func (s *IdempotencyStore) Complete(ctx context.Context, scope, id string) error {
	key := idempotencyKey(scope, id)
	if err := s.client.Set(ctx, key, stateDone, s.ttl).Err(); err != nil {
		return fmt.Errorf("completing %s: %w", key, err)
	}
	return nil
}

// Release drops a claim so a later redelivery can retry.
func (s *IdempotencyStore) Release(ctx context.Context, scope, id string) error {
	key := idempotencyKey(scope, id)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("releasing %s: %w", key, err)
	}
	return nil
}
