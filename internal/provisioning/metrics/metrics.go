// Package metrics exposes Prometheus collectors for provisioning runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Runs     *prometheus.CounterVec
	Duration prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Runs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orgdesk_provisioning_runs_total",
			Help: "Provisioning runs by outcome.",
		}, []string{"outcome"}),
		Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "orgdesk_provisioning_duration_seconds",
			Help:    "End to end latency of provisioning runs.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// IncrementRun records a run outcome: provisioned, noop, rejected or failed.
func (m *Metrics) IncrementRun(outcome string) {
	m.Runs.WithLabelValues(outcome).Inc()
}

// ObserveRun records run latency in seconds.
func (m *Metrics) ObserveRun(seconds float64) {
	m.Duration.Observe(seconds)
}
