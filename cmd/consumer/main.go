package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/michaelmcclelland/orderflow/internal/cache"
	"github.com/michaelmcclelland/orderflow/internal/config"
	"github.com/michaelmcclelland/orderflow/internal/consumers"
	"github.com/michaelmcclelland/orderflow/internal/database"
	"github.com/michaelmcclelland/orderflow/internal/database/models"
	"github.com/michaelmcclelland/orderflow/internal/logging"
	"github.com/michaelmcclelland/orderflow/internal/pipeline"
	"github.com/michaelmcclelland/orderflow/internal/queue"
	"github.com/michaelmcclelland/orderflow/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, loadErr := config.LoadOrEnv()
	if cfg == nil {
		slog.Error("loading config", "error", loadErr)
		os.Exit(1)
	}

	logger, closer := logging.New("consumer", cfg.Log)
	if loadErr != nil {
		logger.Info("using env config", "reason", loadErr)
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

	pool, err := database.NewPool(ctx, cfg.Postgres, cfg.Pipeline.ConsumerTag)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	rdb, err := cache.NewRedisClient(ctx, cfg.Redis, cfg.Pipeline.ConsumerTag)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()

	minioClient, err := storage.NewMinIOClient(ctx, cfg.MinIO)
	if err != nil {
		return fmt.Errorf("connect to minio: %w", err)
	}

	store := consumers.NewGuardedStore(models.NewOrders(pool), consumers.BreakerSettings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     time.Duration(cfg.Breaker.ResetTimeoutSecs) * time.Second,
	}, logger)
	dedup := cache.NewIdempotencyStore(rdb, cfg.Idempotency.TTL())
	set := consumers.NewSet(store, dedup, minioClient)

	delegator, err := set.Delegator()
	if err != nil {
		return fmt.Errorf("registering consumers: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := pipeline.NewMetrics(reg)
	stopMetrics := serveMetrics(cfg.Metrics.Addr, reg, logger)
	defer stopMetrics()

	var (
		fatalMu  sync.Mutex
		fatalErr error
	)
	fail := func(err error) {
		fatalMu.Lock()
		if fatalErr == nil {
			fatalErr = err
		}
		fatalMu.Unlock()
		cancel()
	}

	var deliveries <-chan queue.Delivery
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
		if err := conn.SetPrefetch(cfg.Pipeline.PrefetchCount); err != nil {
			return fmt.Errorf("setting prefetch: %w", err)
		}

		// Exit on disconnect so the supervisor restarts us.
		closed := conn.NotifyClose()
		go func() {
			if amqpErr, ok := <-closed; ok && amqpErr != nil {
				logger.Error("rabbitmq connection lost", "error", amqpErr)
				fail(fmt.Errorf("rabbitmq connection lost: %w", amqpErr))
			}
		}()

		deliveries, err = conn.Consume(ctx, cfg.Pipeline.Queue, cfg.Pipeline.ConsumerTag)
		if err != nil {
			return err
		}

	case config.BrokerRedis:
		if err := queue.EnsureStreams(ctx, rdb, cfg.Streams.Stream, cfg.Streams.Group, logger); err != nil {
			return fmt.Errorf("ensure streams: %w", err)
		}
		name := cfg.Streams.Consumer
		if name == "" {
			name = fmt.Sprintf("consumer-%d", os.Getpid())
		}
		sc := queue.NewStreamConsumer(rdb, queue.StreamConsumerConfig{
			Stream:         cfg.Streams.Stream,
			DLQ:            cfg.Streams.DLQ,
			Group:          cfg.Streams.Group,
			Consumer:       name,
			Count:          cfg.Streams.Count,
			ReclaimMinIdle: cfg.Streams.ReclaimMinIdle(),
			MaxDeliveries:  int64(cfg.Streams.MaxDeliveries),
		}, logger)
		deliveries = sc.Run(ctx)
		defer sc.Wait()
	}

	p := pipeline.New(delegator, pipeline.Config{
		Workers:        cfg.Pipeline.Workers,
		Buffer:         cfg.Pipeline.Buffer,
		HandlerTimeout: cfg.Pipeline.HandlerTimeout(),
	}, metrics, logger)

	logger.Info("consumer starting", "broker", cfg.Broker.Kind, "workers", cfg.Pipeline.Workers)
	p.Run(ctx, deliveries)
	cancel()
	// The deferred conn.Close must not run before the consumer is cancelled
	// on the broker, which the AMQP source signals by closing deliveries.
	drain(deliveries, logger)

	logger.Info("consumer stopped",
		"processed", set.Stats.Processed(),
		"duplicates", set.Stats.Skipped(),
		"breaker", store.State().String())

	fatalMu.Lock()
	defer fatalMu.Unlock()
	return fatalErr
}

// drain requeues whatever the source still hands out after shutdown and
// returns once it closes the channel.
func drain(deliveries <-chan queue.Delivery, logger *slog.Logger) {
	returned := 0
	for d := range deliveries {
		if err := d.Nack(true); err != nil {
			logger.Error("failed to release delivery", "delivery", d.ID, "error", err)
			continue
		}
		returned++
	}
	if returned > 0 {
		logger.Info("released deliveries after shutdown", "count", returned)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
