package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/michaelmcclelland/orderflow/internal/queue"
)

func TestDrain_RequeuesUntilSourceCloses(t *testing.T) {
	t.Parallel()
	deliveries := make(chan queue.Delivery)
	var requeued []bool
	go func() {
		for _, id := range []string{"1", "2"} {
			deliveries <- queue.Delivery{ID: id, Nack: func(requeue bool) error {
				requeued = append(requeued, requeue)
				return nil
			}}
		}
		// The source stays open briefly, as the AMQP forwarder does while the
		// consumer is cancelled on the broker.
		time.Sleep(20 * time.Millisecond)
		close(deliveries)
	}()

	done := make(chan struct{})
	go func() {
		drain(deliveries, slog.New(slog.NewTextHandler(io.Discard, nil)))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("drain did not return after the source closed")
	}

	if len(requeued) != 2 || !requeued[0] || !requeued[1] {
		t.Errorf("requeued = %v, want two requeues", requeued)
	}
}
