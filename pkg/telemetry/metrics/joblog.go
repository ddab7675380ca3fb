package metrics

import (
	"mercator-hq/indexretain/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// JobLogMetrics tracks job log appends.
//
// Metrics:
//   - <ns>_<sub>_job_appends_total: append attempts by index and result
type JobLogMetrics struct {
	appendsTotal *prometheus.CounterVec
}

// NewJobLogMetrics creates and registers job log metrics with the provided registry.
func NewJobLogMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *JobLogMetrics {
	m := &JobLogMetrics{
		appendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "job_appends_total",
				Help:      "Total number of job append attempts",
			},
			[]string{"index_id", "result"},
		),
	}

	registry.MustRegister(m.appendsTotal)
	return m
}

// RecordAppend increments the append counter.
func (m *JobLogMetrics) RecordAppend(indexID, result string) {
	m.appendsTotal.WithLabelValues(indexID, result).Inc()
}
