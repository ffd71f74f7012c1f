package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared across the server.
// A fresh registry per App keeps tests isolated from the global default.
type Metrics struct {
	Registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	MessagesSent  prometheus.Counter
	PushDelivered prometheus.Counter
	PushDropped   prometheus.Counter
	PushClients   prometheus.Gauge
}

// NewMetrics constructs the collector set on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ripple",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status class.",
		}, []string{"method", "class"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ripple",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ripple",
			Subsystem: "chat",
			Name:      "messages_sent_total",
			Help:      "Messages accepted by the send endpoint.",
		}),

		PushDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ripple",
			Subsystem: "push",
			Name:      "delivered_total",
			Help:      "Push envelopes enqueued to a receiver connection.",
		}),

		PushDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ripple",
			Subsystem: "push",
			Name:      "dropped_total",
			Help:      "Push envelopes dropped due to backpressure or shutdown.",
		}),

		PushClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ripple",
			Subsystem: "push",
			Name:      "connected_clients",
			Help:      "Currently connected push clients.",
		}),
	}
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method, class string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, class).Inc()
	m.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
