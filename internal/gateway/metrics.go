// Package gateway assembles the CellGate HTTP gateway: request ID and
// metrics middleware, the rate limit layer, and the upstream reverse proxy.
package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
// Pass to components that need to record metrics.
type Metrics struct {
	// DecisionsTotal counts rate limit decisions by outcome:
	// allowed, blocked, bypass, rejected (classification failed), error.
	DecisionsTotal *prometheus.CounterVec

	// BlockedTotal counts blocked requests by resource label.
	BlockedTotal *prometheus.CounterVec

	// RequestsTotal counts proxied requests by HTTP status code.
	RequestsTotal *prometheus.CounterVec

	// RequestDuration observes end-to-end request duration in seconds.
	RequestDuration prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cellgate",
				Name:      "decisions_total",
				Help:      "Total rate limit decisions by outcome",
			},
			[]string{"outcome"},
		),
		BlockedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cellgate",
				Name:      "blocked_total",
				Help:      "Total blocked requests by resource",
			},
			[]string{"resource"},
		),
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cellgate",
				Name:      "requests_total",
				Help:      "Total requests processed by HTTP status code",
			},
			[]string{"code"},
		),
		RequestDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "cellgate",
				Name:      "request_duration_seconds",
				Help:      "End-to-end request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}
