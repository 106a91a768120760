// Package metrics exposes Prometheus collectors for permission evaluation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Evaluations        *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	GrantsCreated      prometheus.Counter
	GrantsRevoked      prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Evaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orgdesk_permission_evaluations_total",
			Help: "Permission evaluations by decision.",
		}, []string{"decision"}),
		EvaluationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "orgdesk_permission_evaluation_duration_seconds",
			Help:    "Latency of permission evaluations.",
			Buckets: prometheus.DefBuckets,
		}),
		GrantsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orgdesk_role_grants_created_total",
			Help: "Role grants created.",
		}),
		GrantsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orgdesk_role_grants_revoked_total",
			Help: "Role grants revoked.",
		}),
	}
}

// IncrementEvaluation records an evaluation outcome.
func (m *Metrics) IncrementEvaluation(granted bool) {
	decision := "denied"
	if granted {
		decision = "granted"
	}
	m.Evaluations.WithLabelValues(decision).Inc()
}

// ObserveEvaluation records evaluation latency in seconds.
func (m *Metrics) ObserveEvaluation(seconds float64) {
	m.EvaluationDuration.Observe(seconds)
}
