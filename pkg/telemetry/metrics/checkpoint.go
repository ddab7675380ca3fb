package metrics

import (
	"time"

	"mercator-hq/indexretain/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckpointMetrics tracks checkpoint runs.
//
// Metrics:
//   - <ns>_<sub>_checkpoints_total: checkpoint attempts by index and outcome
//   - <ns>_<sub>_checkpoint_duration_seconds: duration of checkpoint attempts
//   - <ns>_<sub>_last_checkpoint_sequence: sequence of the newest checkpoint
//   - <ns>_<sub>_last_checkpoint_timestamp_seconds: completion time of the newest checkpoint
//   - <ns>_<sub>_log_sequence: current job log sequence
type CheckpointMetrics struct {
	runsTotal     *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	lastSequence  *prometheus.GaugeVec
	lastTimestamp *prometheus.GaugeVec
	logSequence   *prometheus.GaugeVec
}

// NewCheckpointMetrics creates and registers checkpoint metrics with the provided registry.
func NewCheckpointMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *CheckpointMetrics {
	m := &CheckpointMetrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "checkpoints_total",
				Help:      "Total number of checkpoint attempts",
			},
			[]string{"index_id", "outcome"},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "checkpoint_duration_seconds",
				Help:      "Duration of checkpoint attempts in seconds",
				// 10ms to ~5.5min
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
			},
			[]string{"index_id"},
		),

		lastSequence: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "last_checkpoint_sequence",
				Help:      "Sequence number of the most recent checkpoint",
			},
			[]string{"index_id"},
		),

		lastTimestamp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "last_checkpoint_timestamp_seconds",
				Help:      "Unix time of the most recent checkpoint",
			},
			[]string{"index_id"},
		),

		logSequence: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "log_sequence",
				Help:      "Current job log sequence",
			},
			[]string{"index_id"},
		),
	}

	registry.MustRegister(
		m.runsTotal,
		m.duration,
		m.lastSequence,
		m.lastTimestamp,
		m.logSequence,
	)
	return m
}

// RecordRun records one checkpoint attempt.
func (m *CheckpointMetrics) RecordRun(indexID, outcome string, duration time.Duration) {
	m.runsTotal.WithLabelValues(indexID, outcome).Inc()
	m.duration.WithLabelValues(indexID).Observe(duration.Seconds())
}

// SetLast publishes the newest checkpoint.
func (m *CheckpointMetrics) SetLast(indexID string, seq uint64, at time.Time) {
	m.lastSequence.WithLabelValues(indexID).Set(float64(seq))
	m.lastTimestamp.WithLabelValues(indexID).Set(float64(at.Unix()))
}

// SetLogSequence publishes the log sequence.
func (m *CheckpointMetrics) SetLogSequence(indexID string, seq uint64) {
	m.logSequence.WithLabelValues(indexID).Set(float64(seq))
}
