package metrics

import (
	"sync"
	"time"

	"mercator-hq/indexretain/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultMaxIndexes bounds the number of distinct index_id label values.
const DefaultMaxIndexes = 1000

// overflowLabel replaces index ids past the cardinality limit.
const overflowLabel = "other"

// Collector owns every metric of the engine and the registry they live in.
// All methods are safe on a nil receiver.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	jobLogMetrics     *JobLogMetrics
	checkpointMetrics *CheckpointMetrics
	compactionMetrics *CompactionMetrics
	browseMetrics     *BrowseMetrics

	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector and registers its metrics with registry.
// If registry is nil a fresh one is created.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}

	return &Collector{
		config:             cfg,
		registry:           registry,
		jobLogMetrics:      NewJobLogMetrics(cfg, registry),
		checkpointMetrics:  NewCheckpointMetrics(cfg, registry),
		compactionMetrics:  NewCompactionMetrics(cfg, registry),
		browseMetrics:      NewBrowseMetrics(cfg, registry),
		cardinalityLimiter: NewCardinalityLimiter(DefaultMaxIndexes),
	}
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

func (c *Collector) indexLabel(indexID string) string {
	if !c.cardinalityLimiter.Allow(indexID) {
		return overflowLabel
	}
	return indexID
}

// RecordAppend counts a job append attempt.
// result is one of "ok", "invalid", "duplicate", "out_of_order",
// "subclient_deleted" or "error".
func (c *Collector) RecordAppend(indexID, result string) {
	if !c.enabled() {
		return
	}
	c.jobLogMetrics.RecordAppend(c.indexLabel(indexID), result)
}

// SetLogSequence publishes the current log sequence of an index.
func (c *Collector) SetLogSequence(indexID string, seq uint64) {
	if !c.enabled() {
		return
	}
	c.checkpointMetrics.SetLogSequence(c.indexLabel(indexID), seq)
}

// RecordCheckpoint records a finished checkpoint attempt.
// outcome is one of "warmup", "noop", "nothing_to_do", "pruned", "partial",
// "conflict" or "error".
func (c *Collector) RecordCheckpoint(indexID, outcome string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.checkpointMetrics.RecordRun(c.indexLabel(indexID), outcome, duration)
}

// SetLastCheckpoint publishes the sequence and completion time of the most
// recent checkpoint.
func (c *Collector) SetLastCheckpoint(indexID string, seq uint64, at time.Time) {
	if !c.enabled() {
		return
	}
	c.checkpointMetrics.SetLast(c.indexLabel(indexID), seq, at)
}

// RecordPruned records the result of one compaction batch.
func (c *Collector) RecordPruned(indexID string, pruned, failed, alreadyPruned int) {
	if !c.enabled() {
		return
	}
	c.compactionMetrics.RecordBatch(c.indexLabel(indexID), pruned, failed, alreadyPruned)
}

// SetPendingIntents publishes the number of unfinished prune intents.
func (c *Collector) SetPendingIntents(indexID string, n int) {
	if !c.enabled() {
		return
	}
	c.compactionMetrics.SetPendingIntents(c.indexLabel(indexID), n)
}

// RecordAgingEvent counts a storage-aging event.
// status is one of "applied", "unknown_job" or "error".
func (c *Collector) RecordAgingEvent(indexID, status string) {
	if !c.enabled() {
		return
	}
	c.browseMetrics.RecordAgingEvent(c.indexLabel(indexID), status)
}

// RecordBrowse counts a browse or restore query and the jobs it returned.
// op is "browse" or "restore".
func (c *Collector) RecordBrowse(indexID, op string, results int) {
	if !c.enabled() {
		return
	}
	c.browseMetrics.RecordQuery(c.indexLabel(indexID), op, results)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether label may be used. Known labels are always allowed;
// new ones only while the limit has not been reached.
func (cl *CardinalityLimiter) Allow(label string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[label]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	// Double-check after acquiring write lock
	if _, exists := cl.current[label]; exists {
		return true
	}

	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[label] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
