package cache

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/michaelmcclelland/orderflow/internal/config"
)

func miniredisConfig(t *testing.T, mr *miniredis.Miniredis) config.RedisConfig {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("parsing miniredis port: %v", err)
	}
	return config.RedisConfig{Host: mr.Host(), Port: port, PoolSize: 2}
}

func TestNewRedisClient(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), miniredisConfig(t, mr), "orderflow-test")
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer client.Close()

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Errorf("stored value = %q, want v", got)
	}
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	cfg := miniredisConfig(t, mr)
	mr.Close()

	if _, err := NewRedisClient(context.Background(), cfg, "orderflow-test"); err == nil {
		t.Fatal("expected error for closed server")
	}
}

func TestRedisOptions(t *testing.T) {
	t.Parallel()
	cfg := config.RedisConfig{Host: "cache", Port: 6380, Password: "pw", DB: 2, PoolSize: 7, MinIdleConns: 1}

	opts := redisOptions(cfg, "orderflow-consumer")
	if opts.Addr != "cache:6380" {
		t.Errorf("Addr = %q, want cache:6380", opts.Addr)
	}
	if opts.DB != 2 || opts.PoolSize != 7 || opts.MinIdleConns != 1 {
		t.Errorf("pool options = db %d size %d idle %d", opts.DB, opts.PoolSize, opts.MinIdleConns)
	}
	if opts.ClientName != "orderflow-consumer" {
		t.Errorf("ClientName = %q, want orderflow-consumer", opts.ClientName)
	}
	if opts.ReadTimeout != ioTimeout {
		t.Errorf("ReadTimeout = %v, want %v", opts.ReadTimeout, ioTimeout)
	}
}
