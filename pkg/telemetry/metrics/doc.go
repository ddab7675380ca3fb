// Package metrics provides Prometheus metrics for the retention engine.
//
// # Metrics Categories
//
//   - Job log: appends by result
//   - Checkpoints: runs by outcome, duration, last completion time, log sequence
//   - Compaction: jobs pruned, failed and already pruned, pending intents
//   - Aging and browse: aging events by status, browse and restore queries
//
// Every series carries an index_id label. Index ids beyond the cardinality
// limit are folded into "other".
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
//	collector.RecordCheckpoint("client-01", "pruned", 350*time.Millisecond)
//	http.Handle("/metrics", collector.Handler())
//
// A nil *Collector is valid and records nothing, so components can take an
// optional collector without guarding every call.
package metrics
