package metrics

import (
	"mercator-hq/indexretain/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// CompactionMetrics tracks prune batches.
//
// Metrics:
//   - <ns>_<sub>_jobs_pruned_total: jobs removed by compaction
//   - <ns>_<sub>_prune_failures_total: jobs that could not be removed
//   - <ns>_<sub>_already_pruned_total: jobs found already removed
//   - <ns>_<sub>_pending_prune_intents: unfinished prune batches
type CompactionMetrics struct {
	prunedTotal        *prometheus.CounterVec
	failuresTotal      *prometheus.CounterVec
	alreadyPrunedTotal *prometheus.CounterVec
	pendingIntents     *prometheus.GaugeVec
}

// NewCompactionMetrics creates and registers compaction metrics with the provided registry.
func NewCompactionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *CompactionMetrics {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      name,
				Help:      help,
			},
			[]string{"index_id"},
		)
	}

	m := &CompactionMetrics{
		prunedTotal:        counter("jobs_pruned_total", "Total number of jobs removed by compaction"),
		failuresTotal:      counter("prune_failures_total", "Total number of jobs compaction failed to remove"),
		alreadyPrunedTotal: counter("already_pruned_total", "Total number of jobs found already removed"),
		pendingIntents: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "pending_prune_intents",
				Help:      "Number of prune batches not yet completed",
			},
			[]string{"index_id"},
		),
	}

	registry.MustRegister(
		m.prunedTotal,
		m.failuresTotal,
		m.alreadyPrunedTotal,
		m.pendingIntents,
	)
	return m
}

// RecordBatch adds the counts of one batch.
func (m *CompactionMetrics) RecordBatch(indexID string, pruned, failed, alreadyPruned int) {
	m.prunedTotal.WithLabelValues(indexID).Add(float64(pruned))
	m.failuresTotal.WithLabelValues(indexID).Add(float64(failed))
	m.alreadyPrunedTotal.WithLabelValues(indexID).Add(float64(alreadyPruned))
}

// SetPendingIntents publishes the pending intent count.
func (m *CompactionMetrics) SetPendingIntents(indexID string, n int) {
	m.pendingIntents.WithLabelValues(indexID).Set(float64(n))
}
