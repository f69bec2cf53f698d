package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeAck     = "ack"
	outcomeRequeue = "requeue"
	outcomeReject  = "reject"

	// unroutedType labels deliveries whose type is missing or unregistered.
	unroutedType = "unrouted"
)

type Metrics struct {
	deliveries *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inFlight   prometheus.Gauge
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderflow_deliveries_total",
				Help: "Deliveries settled by the pipeline, by message type and outcome",
			},
			[]string{"type", "outcome"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orderflow_delivery_duration_seconds",
				Help:    "Time from dequeue to ack or nack",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "orderflow_deliveries_in_flight",
			Help: "Deliveries currently held by workers",
		}),
	}
}

func (m *Metrics) observe(msgType, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(msgType, outcome).Inc()
	m.duration.WithLabelValues(msgType).Observe(seconds)
}

func (m *Metrics) begin() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *Metrics) end() {
	if m != nil {
		m.inFlight.Dec()
	}
}
