package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the sync dispatcher.
type Metrics struct {
	passes          prometheus.Counter
	skippedPasses   prometheus.Counter
	actionsSynced   *prometheus.CounterVec
	actionsFailed   *prometheus.CounterVec
	actionsTerminal *prometheus.CounterVec
	pending         prometheus.Gauge
	callDuration    prometheus.Histogram
}

// NewMetrics creates the dispatcher metrics on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		passes: factory.NewCounter(prometheus.CounterOpts{
			Name: "assetedge_sync_passes_total",
			Help: "SyncAll passes that drained at least one action",
		}),
		skippedPasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "assetedge_sync_passes_skipped_total",
			Help: "SyncAll calls rejected because a pass was already running",
		}),
		actionsSynced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assetedge_sync_actions_succeeded_total",
			Help: "queued actions replayed successfully",
		}, []string{"type"}),
		actionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assetedge_sync_actions_failed_total",
			Help: "failed replay attempts",
		}, []string{"type"}),
		actionsTerminal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "assetedge_sync_actions_terminal_total",
			Help: "actions that exhausted their retries",
		}, []string{"type"}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "assetedge_sync_pending_actions",
			Help: "pending actions after the last pass",
		}),
		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "assetedge_sync_call_duration_seconds",
			Help:    "duration of individual remote calls",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
