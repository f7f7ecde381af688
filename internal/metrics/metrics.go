package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	itemsSynced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kassir",
			Name:      "sync_items_synced_total",
			Help:      "Queue items confirmed by the remote system.",
		},
		[]string{"queue"},
	)

	itemsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kassir",
			Name:      "sync_items_failed_total",
			Help:      "Queue item attempts rejected by the remote system.",
		},
		[]string{"queue"},
	)

	backlog = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kassir",
			Name:      "sync_backlog",
			Help:      "Items still awaiting synchronization.",
		},
		[]string{"queue"},
	)

	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kassir",
			Name:      "sync_runs_total",
			Help:      "Orchestrator runs by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(itemsSynced, itemsFailed, backlog, syncRuns)
	})
}

// IncSynced increments the synced counter for a queue label.
func IncSynced(queue string) {
	itemsSynced.WithLabelValues(queue).Inc()
}

// IncFailed increments the failed counter for a queue label.
func IncFailed(queue string) {
	itemsFailed.WithLabelValues(queue).Inc()
}

// SetBacklog records the current backlog size for a queue label.
func SetBacklog(queue string, size int) {
	backlog.WithLabelValues(queue).Set(float64(size))
}

// IncRun increments the orchestrator run counter for an outcome label.
func IncRun(outcome string) {
	syncRuns.WithLabelValues(outcome).Inc()
}
