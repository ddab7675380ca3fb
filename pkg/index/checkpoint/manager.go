package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/indexretain/pkg/index"
	"mercator-hq/indexretain/pkg/index/compactor"
	"mercator-hq/indexretain/pkg/index/joblog"
	"mercator-hq/indexretain/pkg/telemetry/metrics"
	"mercator-hq/indexretain/pkg/telemetry/tracing"
)

// Evaluator decides eligibility per subclient over a snapshot of its live
// jobs. *retention.Policy satisfies it.
type Evaluator interface {
	EligibleAmong(ctx context.Context, subclientID string, jobs []*index.Job, asOf time.Time) (index.JobSet, error)
	CoveredByDays(ctx context.Context, subclientID string) (bool, error)
}

// Compactor removes the jobs a checkpoint selected.
// *compactor.Compactor satisfies it.
type Compactor interface {
	Compact(ctx context.Context, plan compactor.Plan) (*compactor.BatchResult, error)
	Recover(ctx context.Context) (int, error)
	Pending(ctx context.Context) (int, error)
}

// Result summarizes one RunCheckpoint call.
type Result struct {
	// CheckpointSeq is the checkpoint written, or the latest one for a no-op.
	CheckpointSeq uint64
	Eligible      int
	Pruned        int
	Failed        int
	AlreadyPruned int

	// NoOp is set when nothing changed and no checkpoint was written.
	NoOp bool

	// Warmup is set for the first checkpoint of an index.
	Warmup bool

	// Recovered counts prune intents replayed before evaluation.
	Recovered int
}

// Info is the index-level checkpoint bookkeeping.
type Info struct {
	State             State     `json:"state"`
	LastCheckpointSeq uint64    `json:"last_checkpoint_seq"`
	LastCheckpoint    time.Time `json:"last_checkpoint_time"`
	LastCompaction    time.Time `json:"last_compaction_time"`
	LastPrune         time.Time `json:"last_prune_time"`
	PendingIntents    int       `json:"pending_intents"`
}

// Options configures a Manager.
type Options struct {
	IndexID string

	// LockDir enables a cross-process lease when set.
	LockDir string

	// Now returns the current time. Default: time.Now
	Now func() time.Time

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Manager runs checkpoints for one index.
type Manager struct {
	store     index.Store
	log       joblog.Reader
	evaluator Evaluator
	compactor Compactor
	indexID   string
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Collector

	lease *lease
	state atomic.Int32

	mu             sync.Mutex
	lastCompaction time.Time
}

// New creates a Manager.
func New(store index.Store, log joblog.Reader, evaluator Evaluator, c Compactor, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Manager{
		store:     store,
		log:       log,
		evaluator: evaluator,
		compactor: c,
		indexID:   opts.IndexID,
		now:       opts.Now,
		logger:    opts.Logger.With("component", "index.checkpoint", "index_id", opts.IndexID),
		metrics:   opts.Metrics,
		lease:     newLease(opts.LockDir, opts.IndexID),
	}
	m.lease.logger = m.logger
	return m
}

// State returns the current phase.
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

// RunCheckpoint runs one checkpoint. It fails fast with a
// CheckpointConflictError when another checkpoint of the index is running.
func (m *Manager) RunCheckpoint(ctx context.Context) (result *Result, err error) {
	start := m.now()

	ctx, span := tracing.Start(ctx, "checkpoint.run", tracing.IndexID(m.indexID))
	defer func() {
		if result != nil {
			span.SetAttributes(tracing.CheckpointSeq(result.CheckpointSeq), tracing.NoOp(result.NoOp))
		}
		tracing.End(span, err)
	}()

	release, ok, lerr := m.lease.tryAcquire()
	if lerr != nil {
		m.metrics.RecordCheckpoint(m.indexID, "error", m.now().Sub(start))
		return nil, lerr
	}
	if !ok {
		m.metrics.RecordCheckpoint(m.indexID, "conflict", m.now().Sub(start))
		return nil, index.NewCheckpointConflictError(m.indexID, m.lease.holder())
	}
	defer release()
	defer m.setState(StateIdle)

	result, err = m.run(ctx)
	m.metrics.RecordCheckpoint(m.indexID, outcome(result, err), m.now().Sub(start))
	return result, err
}

// snapshot returns the live jobs of every subclient, each list in start
// order.
func (m *Manager) snapshot(ctx context.Context) (map[string][]*index.Job, error) {
	jobs, err := m.log.Jobs(ctx, index.JobFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot job log: %w", err)
	}
	bySubclient := make(map[string][]*index.Job)
	for _, j := range jobs {
		bySubclient[j.SubclientID] = append(bySubclient[j.SubclientID], j)
	}
	for _, list := range bySubclient {
		index.SortJobs(list)
	}
	return bySubclient, nil
}

func (m *Manager) run(ctx context.Context) (*Result, error) {
	// Unfinished batches are resumed before anything is re-decided.
	recovered, err := m.compactor.Recover(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover pending prune batches: %w", err)
	}

	m.setState(StateEvaluating)

	logSeq, err := m.log.Sequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read log sequence: %w", err)
	}
	cfgVer, err := m.store.ConfigVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read config version: %w", err)
	}
	m.metrics.SetLogSequence(m.indexID, logSeq)

	// Jobs appended from here on wait for the next checkpoint.
	snapshot, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	last, err := m.store.LatestCheckpoint(ctx)
	if err != nil && !errors.Is(err, index.ErrNotFound) {
		return nil, fmt.Errorf("failed to read latest checkpoint: %w", err)
	}

	asOf := m.now()
	if last == nil {
		return m.warmup(ctx, asOf, logSeq, cfgVer, recovered)
	}

	subclients, err := m.store.ListSubclients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list subclients: %w", err)
	}

	if !last.Warmup && last.LogSequence == logSeq && last.ConfigVersion == cfgVer && last.Failed == 0 {
		days, err := m.anyDaysRule(ctx, subclients)
		if err != nil {
			return nil, err
		}
		if !days {
			m.setState(StateNothingToDo)
			m.logger.Debug("checkpoint skipped, nothing changed", "checkpoint_seq", last.Seq)
			return &Result{CheckpointSeq: last.Seq, NoOp: true, Recovered: recovered}, nil
		}
	}

	eligible := index.NewJobSet()
	for _, sc := range subclients {
		set, err := m.evaluator.EligibleAmong(ctx, sc.ID, snapshot[sc.ID], asOf)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate subclient %s: %w", sc.ID, err)
		}
		eligible.Union(set)
	}

	watermark, err := m.watermark(ctx, eligible)
	if err != nil {
		return nil, err
	}

	cp := &index.Checkpoint{
		Seq:            last.Seq + 1,
		CreatedAt:      asOf,
		AsOf:           asOf,
		PruneWatermark: watermark,
		LogSequence:    logSeq,
		ConfigVersion:  cfgVer,
		Eligible:       len(eligible),
	}
	result := &Result{CheckpointSeq: cp.Seq, Eligible: len(eligible), Recovered: recovered}

	var compactErr error
	if len(eligible) == 0 {
		m.setState(StateNothingToDo)
	} else {
		m.setState(StatePrunePending)
		m.logger.Info("jobs eligible for pruning", "checkpoint_seq", cp.Seq, "eligible", len(eligible))

		m.setState(StateCompacting)
		batch, err := m.compactor.Compact(ctx, compactor.Plan{
			CheckpointSeq: cp.Seq,
			AsOf:          asOf,
			JobIDs:        eligible.Sorted(),
		})
		if batch != nil {
			cp.Pruned = batch.Pruned
			cp.Failed = batch.Failed()
			result.AlreadyPruned = batch.AlreadyPruned
		} else {
			cp.Failed = len(eligible)
		}
		compactErr = err

		m.mu.Lock()
		m.lastCompaction = m.now()
		m.mu.Unlock()
	}
	result.Pruned = cp.Pruned
	result.Failed = cp.Failed

	if err := m.store.SaveCheckpoint(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint %d: %w", cp.Seq, err)
	}
	m.metrics.SetLastCheckpoint(m.indexID, cp.Seq, cp.CreatedAt)

	m.logger.Info("checkpoint completed",
		"checkpoint_seq", cp.Seq,
		"log_sequence", logSeq,
		"eligible", cp.Eligible,
		"pruned", cp.Pruned,
		"failed", cp.Failed,
	)

	if compactErr != nil {
		return result, fmt.Errorf("checkpoint %d compaction failed: %w", cp.Seq, compactErr)
	}
	return result, nil
}

// warmup records the first checkpoint of an index without pruning.
func (m *Manager) warmup(ctx context.Context, asOf time.Time, logSeq, cfgVer uint64, recovered int) (*Result, error) {
	m.setState(StateNothingToDo)

	cp := &index.Checkpoint{
		Seq:           1,
		CreatedAt:     asOf,
		AsOf:          asOf,
		LogSequence:   logSeq,
		ConfigVersion: cfgVer,
		Warmup:        true,
	}
	if err := m.store.SaveCheckpoint(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint 1: %w", err)
	}
	m.metrics.SetLastCheckpoint(m.indexID, cp.Seq, cp.CreatedAt)

	m.logger.Info("warm-up checkpoint recorded", "checkpoint_seq", cp.Seq, "log_sequence", logSeq)
	return &Result{CheckpointSeq: cp.Seq, Warmup: true, Recovered: recovered}, nil
}

func (m *Manager) anyDaysRule(ctx context.Context, subclients []*index.Subclient) (bool, error) {
	for _, sc := range subclients {
		days, err := m.evaluator.CoveredByDays(ctx, sc.ID)
		if err != nil {
			return false, fmt.Errorf("failed to resolve rules of subclient %s: %w", sc.ID, err)
		}
		if days {
			return true, nil
		}
	}
	return false, nil
}

// watermark returns the newest end time among eligible jobs.
func (m *Manager) watermark(ctx context.Context, eligible index.JobSet) (time.Time, error) {
	var newest time.Time
	if len(eligible) == 0 {
		return newest, nil
	}

	jobs, err := m.log.Jobs(ctx, index.JobFilter{})
	if err != nil {
		return newest, fmt.Errorf("failed to list jobs: %w", err)
	}
	for _, j := range jobs {
		if eligible.Has(j.JobID) && j.EndTime.After(newest) {
			newest = j.EndTime
		}
	}
	return newest, nil
}

// Info reports checkpoint bookkeeping. Prune and compaction times come from
// the checkpoint history, so they survive restarts.
func (m *Manager) Info(ctx context.Context) (*Info, error) {
	info := &Info{State: m.State()}

	history, err := m.store.ListCheckpoints(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	for i, cp := range history {
		if i == 0 {
			info.LastCheckpointSeq = cp.Seq
			info.LastCheckpoint = cp.CreatedAt
		}
		if info.LastCompaction.IsZero() && cp.Eligible > 0 {
			info.LastCompaction = cp.CreatedAt
		}
		if info.LastPrune.IsZero() && cp.Pruned > 0 {
			info.LastPrune = cp.CreatedAt
		}
	}

	m.mu.Lock()
	if m.lastCompaction.After(info.LastCompaction) {
		info.LastCompaction = m.lastCompaction
	}
	m.mu.Unlock()

	info.PendingIntents, err = m.compactor.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count prune intents: %w", err)
	}
	return info, nil
}

func outcome(result *Result, err error) string {
	switch {
	case result == nil && err != nil:
		return "error"
	case result.Warmup:
		return "warmup"
	case result.NoOp:
		return "noop"
	case err != nil || result.Failed > 0:
		return "partial"
	case result.Eligible == 0:
		return "nothing_to_do"
	default:
		return "pruned"
	}
}
