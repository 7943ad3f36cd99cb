package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the read cache.
type Metrics struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	invalidations prometheus.Counter
}

// NewMetrics creates the cache metrics on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		hits: factory.NewCounter(prometheus.CounterOpts{
			Name: "assetedge_cache_hits_total",
			Help: "snapshot reads served from the cache",
		}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Name: "assetedge_cache_misses_total",
			Help: "snapshot reads that found nothing valid",
		}),
		invalidations: factory.NewCounter(prometheus.CounterOpts{
			Name: "assetedge_cache_invalidations_total",
			Help: "explicit snapshot invalidations",
		}),
	}
}
