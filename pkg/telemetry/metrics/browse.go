package metrics

import (
	"mercator-hq/indexretain/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BrowseMetrics tracks storage aging and browse queries.
//
// Metrics:
//   - <ns>_<sub>_aging_events_total: aging events by status
//   - <ns>_<sub>_browse_queries_total: browse and restore queries
//   - <ns>_<sub>_browse_results: jobs returned per query
type BrowseMetrics struct {
	agingEventsTotal *prometheus.CounterVec
	queriesTotal     *prometheus.CounterVec
	results          *prometheus.HistogramVec
}

// NewBrowseMetrics creates browse metrics registered with the provided registry.
func NewBrowseMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *BrowseMetrics {
	factory := promauto.With(registry)
	return &BrowseMetrics{
		agingEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "aging_events_total",
				Help:      "Total number of storage aging events",
			},
			[]string{"index_id", "status"},
		),

		queriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "browse_queries_total",
				Help:      "Total number of browse and restore queries",
			},
			[]string{"index_id", "op"},
		),

		results: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "browse_results",
				Help:      "Number of jobs returned per query",
				Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000},
			},
			[]string{"index_id", "op"},
		),
	}
}

// RecordAgingEvent increments the aging event counter.
func (m *BrowseMetrics) RecordAgingEvent(indexID, status string) {
	m.agingEventsTotal.WithLabelValues(indexID, status).Inc()
}

// RecordQuery records one query.
func (m *BrowseMetrics) RecordQuery(indexID, op string, results int) {
	m.queriesTotal.WithLabelValues(indexID, op).Inc()
	m.results.WithLabelValues(indexID, op).Observe(float64(results))
}
