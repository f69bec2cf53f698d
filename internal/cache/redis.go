package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/michaelmcclelland/orderflow/internal/config"
	"github.com/redis/go-redis/v9"
)

const (
	dialTimeout = 5 * time.Second
	ioTimeout   = 3 * time.Second
	poolTimeout = 5 * time.Second
)

// NewRedisClient connects to Redis and pings it. name is registered with
// CLIENT SETNAME so stream consumers can be told apart in CLIENT LIST.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, name string) (*redis.Client, error) {
	client := redis.NewClient(redisOptions(cfg, name))

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr(), err)
	}

	return client, nil
}

func redisOptions(cfg config.RedisConfig, name string) *redis.Options {
	return &redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		ClientName:   name,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
		PoolTimeout:  poolTimeout,
	}
}
