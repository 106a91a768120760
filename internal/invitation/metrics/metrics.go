package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the invitation module.
type Metrics struct {
	Created        *prometheus.CounterVec
	Accepted       prometheus.Counter
	Cancelled      prometheus.Counter
	Swept          prometheus.Counter
	CreateDuration prometheus.Histogram
}

// New creates a new Metrics instance with all invitation module metrics registered.
func New() *Metrics {
	return &Metrics{
		Created: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orgdesk_invitations_created_total",
			Help: "Total number of invitations created by type",
		}, []string{"type"}),
		Accepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orgdesk_invitations_accepted_total",
			Help: "Total number of invitations accepted",
		}),
		Cancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orgdesk_invitations_cancelled_total",
			Help: "Total number of invitations cancelled",
		}),
		Swept: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orgdesk_invitations_expired_swept_total",
			Help: "Total number of pending invitations transitioned to expired by the sweep",
		}),
		CreateDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "orgdesk_invitation_create_duration_seconds",
			Help:    "Duration of invitation creation including secret generation",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementCreated records a created invitation of the given type.
func (m *Metrics) IncrementCreated(invitationType string) {
	m.Created.WithLabelValues(invitationType).Inc()
}

// ObserveCreate records the duration of a Create operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveCreate(start time.Time) {
	m.CreateDuration.Observe(time.Since(start).Seconds())
}
