package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/michaelmcclelland/orderflow/internal/cache"
	"github.com/michaelmcclelland/orderflow/internal/config"
	"github.com/michaelmcclelland/orderflow/internal/consumers"
	"github.com/michaelmcclelland/orderflow/internal/logging"
	"github.com/michaelmcclelland/orderflow/internal/queue"
	"github.com/michaelmcclelland/orderflow/internal/seeder"
)

func main() {
	cfg, loadErr := config.LoadOrEnv()
	if cfg == nil {
		slog.Error("loading config", "error", loadErr)
		os.Exit(1)
	}

	logger, closer := logging.New("publisher", cfg.Log)
	if loadErr != nil {
		logger.Debug("using env config", "reason", loadErr)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal error", "error", err)
		closer.Close()
		os.Exit(1)
	}
	closer.Close()
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eventsFile := "events.jsonl"
	if len(os.Args) > 1 {
		eventsFile = os.Args[1]
	}

	var target seeder.Target
	switch cfg.Broker.Kind {
	default:
		return fmt.Errorf("unsupported broker kind %q", cfg.Broker.Kind)
	case config.BrokerAMQP:
		conn, err := queue.Dial(cfg.RabbitMQ.URL(), logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := conn.Setup(queue.TopologyFromConfig(cfg.Pipeline)); err != nil {
			return fmt.Errorf("declaring topology: %w", err)
		}

		publisher, err := queue.NewPublisher(conn)
		if err != nil {
			return fmt.Errorf("creating publisher: %w", err)
		}
		defer publisher.Close()
		target = seeder.AMQPTarget{Publisher: publisher, Exchange: cfg.Pipeline.Exchange}

	case config.BrokerRedis:
		rdb, err := cache.NewRedisClient(ctx, cfg.Redis, "orderflow-publisher")
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer rdb.Close()

		if err := queue.EnsureStreams(ctx, rdb, cfg.Streams.Stream, cfg.Streams.Group, logger); err != nil {
			return fmt.Errorf("ensure streams: %w", err)
		}
		target = seeder.StreamTarget{Publisher: queue.NewStreamPublisher(rdb, cfg.Streams.Stream)}
	}

	if _, err := seeder.LoadAndPublish(ctx, eventsFile, target, consumers.Codecs(), logger); err != nil {
		return fmt.Errorf("publishing failed: %w", err)
	}
	return nil
}
