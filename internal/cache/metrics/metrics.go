package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the cache module.
type Metrics struct {
	Hits          *prometheus.CounterVec
	Misses        *prometheus.CounterVec
	Evictions     prometheus.Counter
	Expirations   prometheus.Counter
	Invalidations prometheus.Counter
	Entries       prometheus.Gauge
}

// New creates a new Metrics instance with all cache module metrics registered.
func New() *Metrics {
	return &Metrics{
		Hits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orgdesk_cache_hits_total",
			Help: "Total number of cache hits by category",
		}, []string{"category"}),
		Misses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orgdesk_cache_misses_total",
			Help: "Total number of cache misses by category",
		}, []string{"category"}),
		Evictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orgdesk_cache_evictions_total",
			Help: "Total number of entries evicted under the entry cap",
		}),
		Expirations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orgdesk_cache_expirations_total",
			Help: "Total number of entries removed because their TTL elapsed",
		}),
		Invalidations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "orgdesk_cache_invalidations_total",
			Help: "Total number of entries removed by explicit invalidation",
		}),
		Entries: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "orgdesk_cache_entries",
			Help: "Current number of live cache entries",
		}),
	}
}

// IncrementHit records a cache hit for a category.
func (m *Metrics) IncrementHit(category string) {
	m.Hits.WithLabelValues(category).Inc()
}

// IncrementMiss records a cache miss for a category.
func (m *Metrics) IncrementMiss(category string) {
	m.Misses.WithLabelValues(category).Inc()
}
