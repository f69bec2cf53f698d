package consumers

import (
	"github.com/michaelmcclelland/orderflow/internal/pipeline"
	"github.com/michaelmcclelland/orderflow/internal/queue"
)

// Set holds the consumers registered with the pipeline.
type Set struct {
	Created   *OrderCreatedConsumer
	Cancelled *OrderCancelledConsumer
	Invoices  *InvoiceConsumer
	Stats     *Stats
}

// NewSet wires every consumer to shared dependencies. dedup may be nil.
func NewSet(store OrderStore, dedup Deduper, blobs BlobStore) *Set {
	stats := &Stats{}
	return &Set{
		Created:   NewOrderCreatedConsumer(store, dedup, stats),
		Cancelled: NewOrderCancelledConsumer(store, stats),
		Invoices:  NewInvoiceConsumer(blobs, store, stats),
		Stats:     stats,
	}
}

// Handlers returns the registration list in routing order.
func (s *Set) Handlers() []pipeline.Handler {
	codecs := Codecs()
	return []pipeline.Handler{
		pipeline.Register[OrderCreated](TypeOrderCreated, codecs[TypeOrderCreated], s.Created),
		pipeline.Register[OrderCancelled](TypeOrderCancelled, codecs[TypeOrderCancelled], s.Cancelled),
		pipeline.Register[InvoiceIssued](TypeInvoiceIssued, codecs[TypeInvoiceIssued], s.Invoices),
	}
}

// Delegator builds a delegator over Handlers.
func (s *Set) Delegator() (*pipeline.Delegator, error) {
	return pipeline.NewDelegator(s.Handlers()...)
}

// Codecs maps each message type to its wire encoding, for publishers.
func Codecs() map[string]queue.Codec {
	return map[string]queue.Codec{
		TypeOrderCreated:   queue.JSON,
		TypeOrderCancelled: queue.JSON,
		TypeInvoiceIssued:  queue.YAML,
	}
}
