package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/michaelmcclelland/orderflow/internal/logging"
	"github.com/michaelmcclelland/orderflow/internal/queue"
)

const DefaultWorkers = 10

type Config struct {
	Workers int
	// Buffer is the capacity of the internal work queue. Zero means Workers.
	Buffer int
	// HandlerTimeout bounds a single Delegate call. Zero means no bound.
	HandlerTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Buffer <= 0 {
		c.Buffer = c.Workers
	}
	return c
}

// Pipeline fans deliveries out to a fixed pool of workers that route each one
// through a Delegator and settle it with an ack or nack.
type Pipeline struct {
	delegator *Delegator
	cfg       Config
	metrics   *Metrics
	logger    *slog.Logger
}

// New builds a pipeline. metrics may be nil.
func New(delegator *Delegator, cfg Config, metrics *Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		delegator: delegator,
		cfg:       cfg.withDefaults(),
		metrics:   metrics,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled or deliveries is closed, then waits for
// every worker to settle the deliveries it already holds. No delivery is
// taken from the stream after cancellation is observed.
func (p *Pipeline) Run(ctx context.Context, deliveries <-chan queue.Delivery) {
	work := make(chan queue.Delivery, p.cfg.Buffer)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.worker(ctx, workerID, work)
		}(i)
	}

	p.logger.Info("pipeline started",
		"workers", p.cfg.Workers,
		"buffer", p.cfg.Buffer,
		"types", p.delegator.Types())

	p.fanOut(ctx, deliveries, work)
	close(work)

	wg.Wait()
	p.logger.Info("pipeline stopped, all workers drained")
}

func (p *Pipeline) fanOut(ctx context.Context, deliveries <-chan queue.Delivery, work chan<- queue.Delivery) {
	for {
		// Cancellation wins over a ready delivery.
		if ctx.Err() != nil {
			p.logger.Info("shutdown requested, no longer pulling deliveries")
			return
		}

		select {
		case <-ctx.Done():
			p.logger.Info("shutdown requested, no longer pulling deliveries")
			return
		case d, ok := <-deliveries:
			if !ok {
				p.logger.Info("delivery stream closed")
				return
			}
			if ctx.Err() != nil {
				p.release(d)
				return
			}
			select {
			case work <- d:
			case <-ctx.Done():
				p.release(d)
				return
			}
		}
	}
}

// release hands an unprocessed delivery back to the broker.
func (p *Pipeline) release(d queue.Delivery) {
	if err := d.Nack(true); err != nil {
		p.logger.Error("failed to release delivery", "delivery", d.ID, "error", err)
		return
	}
	p.logger.Debug("released delivery on shutdown", "delivery", d.ID)
}

func (p *Pipeline) worker(ctx context.Context, id int, work <-chan queue.Delivery) {
	logger := p.logger.With("worker", id)
	logger.Debug("worker started")

	for d := range work {
		p.process(ctx, logger, d)
	}

	logger.Debug("worker stopped")
}

func (p *Pipeline) process(ctx context.Context, logger *slog.Logger, d queue.Delivery) {
	start := time.Now()
	p.metrics.begin()
	defer p.metrics.end()

	logger = logger.With("delivery", d.ID)
	label := unroutedType

	msgType, ok := d.MessageType()
	var err error
	if !ok {
		err = ErrMissingType
	} else {
		logger = logger.With("type", msgType)
		if p.delegator.registered(msgType) {
			label = msgType
		}
		err = p.delegate(ctx, logger, msgType, d)
	}

	if err == nil {
		if ackErr := d.Ack(); ackErr != nil {
			logger.Error("ack failed", "error", ackErr)
		}
		p.metrics.observe(label, outcomeAck, time.Since(start).Seconds())
		return
	}

	decision := DecisionFor(err)
	logger.Error("processing failed",
		"error", err,
		"decision", decision.String(),
		"redelivered", d.Redelivered)

	if nackErr := d.Nack(decision == Requeue); nackErr != nil {
		logger.Error("nack failed", "error", nackErr)
	}
	outcome := outcomeReject
	if decision == Requeue {
		outcome = outcomeRequeue
	}
	p.metrics.observe(label, outcome, time.Since(start).Seconds())
}

// delegate detaches the handler from shutdown so in-flight work runs to
// completion, bounded only by HandlerTimeout. Handlers can log through
// logging.FromCtx and read the delivery metadata through DeliveryFrom.
func (p *Pipeline) delegate(ctx context.Context, logger *slog.Logger, msgType string, d queue.Delivery) error {
	hctx := logging.WithCtx(context.WithoutCancel(ctx), logger)
	hctx = WithDelivery(hctx, DeliveryInfo{ID: d.ID, Redelivered: d.Redelivered})
	if p.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(hctx, p.cfg.HandlerTimeout)
		defer cancel()
	}
	return p.delegator.Delegate(hctx, msgType, d.Body)
}
