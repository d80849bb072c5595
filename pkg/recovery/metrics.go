package recovery

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Job outcomes recorded in Metrics.
const (
	OutcomeVerified   = "verified"
	OutcomeUnverified = "unverified"
	OutcomeFailed     = "failed"
	OutcomeCancelled  = "cancelled"
)

// Metrics holds the Prometheus collectors for batch recovery.
type Metrics struct {
	JobCount   *prometheus.CounterVec
	JobLatency prometheus.Histogram
}

// NewMetrics initializes Prometheus metrics for batch recovery.
func NewMetrics() *Metrics {
	return &Metrics{
		JobCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rsz_recovery_jobs_total",
				Help: "Number of recovery jobs processed, by outcome",
			},
			[]string{"outcome"},
		),
		JobLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rsz_recovery_job_seconds",
				Help:    "Time spent evaluating a single recovery job",
				Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
			},
		),
	}
}

// Register adds the collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.JobCount, m.JobLatency} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
