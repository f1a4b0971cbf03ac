// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the dispatch engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the metric instruments for the dispatch engine.
type Metrics struct {
	EventsDispatched    prometheus.Counter
	DeliveriesTotal     *prometheus.CounterVec
	DeliveryLatency     prometheus.Histogram
	PendingDeliveries   prometheus.Gauge
	WebhooksDeactivated prometheus.Counter
}

// NewMetrics creates and registers the dispatch metric instruments.
// Pass prometheus.DefaultRegisterer for standard exposition.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_events_total",
			Help: "Domain events fanned out to webhooks.",
		}),
		DeliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_deliveries_total",
			Help: "Delivery attempts by outcome.",
		}, []string{"status"}),
		DeliveryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatch_delivery_latency_seconds",
			Help:    "Wall-clock latency of delivery HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}),
		PendingDeliveries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_pending_deliveries",
			Help: "Deliveries awaiting an attempt.",
		}),
		WebhooksDeactivated: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_webhooks_deactivated_total",
			Help: "Webhooks disabled after exhausting their retry budget.",
		}),
	}
}

// RecordDelivery records a delivery attempt with the given outcome and latency.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabelValues(status).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}
