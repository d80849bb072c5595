package source

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes recorded in Metrics.
const (
	OutcomeOK       = "ok"
	OutcomeRetry    = "retry"
	OutcomeFailed   = "failed"
	OutcomeNotFound = "not_found"
)

// Metrics holds the Prometheus collectors for remote sources.
type Metrics struct {
	RequestCount   *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	CacheLookups   *prometheus.CounterVec
}

// NewMetrics initializes Prometheus metrics for remote sources.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsz_source_requests_total",
				Help: "Number of source request attempts, by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rsz_source_request_seconds",
				Help:    "Latency of a single source request attempt",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsz_source_cache_lookups_total",
				Help: "Raw transaction cache lookups, by result",
			},
			[]string{"result"},
		),
	}
}

// Register adds the collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.RequestCount, m.RequestLatency, m.CacheLookups} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
