package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mercator-hq/indexretain/pkg/config"
	"mercator-hq/indexretain/pkg/index"
	"mercator-hq/indexretain/pkg/index/aging"
	"mercator-hq/indexretain/pkg/index/archive"
	"mercator-hq/indexretain/pkg/index/browse"
	"mercator-hq/indexretain/pkg/index/checkpoint"
	"mercator-hq/indexretain/pkg/index/compactor"
	"mercator-hq/indexretain/pkg/index/joblog"
	"mercator-hq/indexretain/pkg/index/retention"
	"mercator-hq/indexretain/pkg/index/storage"
	"mercator-hq/indexretain/pkg/telemetry/metrics"
)

// defaultRuleSetting persists the index default rule so that a change made
// while the process was down still invalidates the last checkpoint.
const defaultRuleSetting = "retention.default"

// Options carries the shared dependencies of every engine.
type Options struct {
	// Now returns the current time. Default: time.Now
	Now func() time.Time

	Logger   *slog.Logger
	Metrics  *metrics.Collector
	Archiver archive.Archiver
}

// Engine is one logical index.
type Engine struct {
	id     string
	store  index.Store
	retry  config.CheckpointConfig
	logger *slog.Logger

	log         *joblog.JobLog
	policy      *retention.Policy
	compactor   *compactor.Compactor
	checkpoints *checkpoint.Manager
	aging       *aging.Coordinator
	settings    *aging.Settings
	browse      *browse.Resolver
}

// Open opens the store of idx as configured and builds its engine.
func Open(ctx context.Context, cfg *config.Config, idx config.IndexConfig, opts Options) (*Engine, error) {
	store, err := OpenStore(cfg.Storage, idx.ID)
	if err != nil {
		return nil, err
	}

	e, err := New(ctx, store, cfg, idx, opts)
	if err != nil {
		store.Close()
		return nil, err
	}
	return e, nil
}

// OpenStore opens the store of one index.
func OpenStore(cfg config.StorageConfig, indexID string) (index.Store, error) {
	sc := storage.Config{
		Backend:     cfg.Backend,
		Driver:      cfg.Driver,
		WALMode:     !cfg.DisableWAL,
		BusyTimeout: cfg.BusyTimeout,
	}
	if cfg.Backend != "memory" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %q: %w", cfg.DataDir, err)
		}
		sc.Path = filepath.Join(cfg.DataDir, indexID+".db")
	}

	store, err := storage.New(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to open store of index %s: %w", indexID, err)
	}
	return store, nil
}

// New builds an engine over an open store and applies idx to it. The engine
// takes ownership of store.
func New(ctx context.Context, store index.Store, cfg *config.Config, idx config.IndexConfig, opts Options) (*Engine, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("index_id", idx.ID)

	log := joblog.New(store, joblog.Options{
		IndexID:       idx.ID,
		SkewTolerance: cfg.Checkpoint.SkewTolerance,
		Now:           opts.Now,
		Logger:        logger,
		Metrics:       opts.Metrics,
	})
	policy := retention.New(log, store,
		retention.WithDefaultRule(cfg.Retention.Default),
		retention.WithLogger(logger),
	)
	comp := compactor.New(store, log, policy, compactor.Options{
		IndexID:  idx.ID,
		Archiver: opts.Archiver,
		Now:      opts.Now,
		Logger:   logger,
		Metrics:  opts.Metrics,
	})
	// A memory store is private to the process.
	lockDir := cfg.Checkpoint.LockDir
	if cfg.Storage.Backend == "memory" {
		lockDir = ""
	}
	manager := checkpoint.New(store, log, policy, comp, checkpoint.Options{
		IndexID: idx.ID,
		LockDir: lockDir,
		Now:     opts.Now,
		Logger:  logger,
		Metrics: opts.Metrics,
	})
	coord := aging.New(store, aging.Options{
		IndexID: idx.ID,
		Now:     opts.Now,
		Logger:  logger,
		Metrics: opts.Metrics,
	})

	e := &Engine{
		id:          idx.ID,
		store:       store,
		retry:       cfg.Checkpoint,
		logger:      logger.With("component", "index.engine"),
		log:         log,
		policy:      policy,
		compactor:   comp,
		checkpoints: manager,
		aging:       coord,
		settings:    aging.NewSettings(store, cfg.Aging.ShowAgedData, logger),
		browse: browse.New(store, log, coord, browse.Options{
			IndexID: idx.ID,
			Logger:  logger,
			Metrics: opts.Metrics,
		}),
	}

	if err := e.Apply(ctx, cfg, idx); err != nil {
		return nil, err
	}
	return e, nil
}

// ID returns the index id.
func (e *Engine) ID() string { return e.id }

// Store returns the underlying store.
func (e *Engine) Store() index.Store { return e.store }

// Apply pushes configuration into the store. Rules are replaced; deletion
// flags set at runtime are kept, and a deleted subclient keeps the rule it
// was deleted under. Subclients and backupsets missing from idx are left
// alone.
func (e *Engine) Apply(ctx context.Context, cfg *config.Config, idx config.IndexConfig) error {
	if idx.ID != e.id {
		return fmt.Errorf("config for index %s applied to index %s", idx.ID, e.id)
	}

	changed := 0
	for _, bsCfg := range idx.Backupsets {
		bs := &index.Backupset{ID: bsCfg.ID, Retention: bsCfg.Retention}
		if prev, err := e.store.GetBackupset(ctx, bsCfg.ID); err == nil {
			bs.Deleted = prev.Deleted
		} else if !errors.Is(err, index.ErrNotFound) {
			return err
		}
		ok, err := e.store.UpsertBackupset(ctx, bs)
		if err != nil {
			return fmt.Errorf("failed to sync backupset %s: %w", bs.ID, err)
		}
		if ok {
			changed++
		}

		for _, scCfg := range bsCfg.Subclients {
			sc := &index.Subclient{ID: scCfg.ID, BackupsetID: bsCfg.ID, Retention: scCfg.Retention}
			if prev, err := e.store.GetSubclient(ctx, scCfg.ID); err == nil {
				sc.Deleted = prev.Deleted
				sc.DeletedAt = prev.DeletedAt
				if prev.Deleted {
					sc.Retention = prev.Retention
				}
			} else if !errors.Is(err, index.ErrNotFound) {
				return err
			}
			ok, err := e.store.UpsertSubclient(ctx, sc)
			if err != nil {
				return fmt.Errorf("failed to sync subclient %s: %w", sc.ID, err)
			}
			if ok {
				changed++
			}
		}
	}

	if err := e.applyDefaultRule(ctx, cfg.Retention.Default); err != nil {
		return err
	}
	e.settings.SetDefault(cfg.Aging.ShowAgedData)

	e.logger.Info("configuration applied",
		"backupsets", len(idx.Backupsets),
		"rules_changed", changed,
		"default_rule", cfg.Retention.Default.String(),
	)
	return nil
}

func (e *Engine) applyDefaultRule(ctx context.Context, rule index.RetentionRule) error {
	e.policy.SetDefaultRule(rule)

	prev, ok, err := e.store.GetSetting(ctx, defaultRuleSetting)
	if err != nil {
		return err
	}
	if ok && prev == rule.String() {
		return nil
	}
	if err := e.store.PutSetting(ctx, defaultRuleSetting, rule.String()); err != nil {
		return err
	}
	if !ok {
		return nil
	}
	ver, err := e.store.BumpConfigVersion(ctx)
	if err != nil {
		return err
	}
	e.logger.Info("default retention rule changed", "from", prev, "to", rule.String(), "config_version", ver)
	return nil
}

// AppendJob records a completed job.
func (e *Engine) AppendJob(ctx context.Context, job *index.Job) (uint64, error) {
	return e.log.Append(ctx, job)
}

// Jobs returns live jobs matching filter.
func (e *Engine) Jobs(ctx context.Context, filter index.JobFilter) ([]*index.Job, error) {
	return e.log.Jobs(ctx, filter)
}

// DeleteSubclient marks a subclient deleted. Its jobs keep following retention.
func (e *Engine) DeleteSubclient(ctx context.Context, subclientID string) error {
	return e.log.DeleteSubclient(ctx, subclientID)
}

// DeleteBackupset marks a backupset and its subclients deleted.
func (e *Engine) DeleteBackupset(ctx context.Context, backupsetID string) error {
	return e.log.DeleteBackupset(ctx, backupsetID)
}

// RunCheckpoint runs one checkpoint, failing fast on a conflict.
func (e *Engine) RunCheckpoint(ctx context.Context) (*checkpoint.Result, error) {
	return e.checkpoints.RunCheckpoint(ctx)
}

// RunCheckpointWithRetry retries conflicting checkpoints as configured.
func (e *Engine) RunCheckpointWithRetry(ctx context.Context) (*checkpoint.Result, error) {
	return e.checkpoints.RunWithRetry(ctx, e.retry.RetryAttempts, e.retry.RetryBackoff)
}

// CheckpointState returns the phase of the checkpoint manager.
func (e *Engine) CheckpointState() checkpoint.State {
	return e.checkpoints.State()
}

// Checkpoints returns up to limit newest checkpoint records.
func (e *Engine) Checkpoints(ctx context.Context, limit int) ([]*index.Checkpoint, error) {
	return e.store.ListCheckpoints(ctx, limit)
}

// OnStorageAged records a storage-aging notice.
func (e *Engine) OnStorageAged(ctx context.Context, ev aging.Event) error {
	return e.aging.OnStorageAged(ctx, ev)
}

// RunAging consumes storage-aging notices until events is closed or ctx is
// done.
func (e *Engine) RunAging(ctx context.Context, events <-chan aging.Event) error {
	return e.aging.Run(ctx, events)
}

// Reconcile compares storage aging with pruning.
func (e *Engine) Reconcile(ctx context.Context) (*aging.Report, error) {
	return e.aging.Reconcile(ctx)
}

// ShowAgedData returns the ShowAgedDataForBrowseAndRecovery toggle.
func (e *Engine) ShowAgedData(ctx context.Context) (bool, error) {
	return e.settings.ShowAgedData(ctx)
}

// SetShowAgedData persists the ShowAgedDataForBrowseAndRecovery toggle.
func (e *Engine) SetShowAgedData(ctx context.Context, show bool) error {
	return e.settings.SetShowAgedData(ctx, show)
}

// Browse returns the visible jobs of a scope. jobID 0 lists the scope.
// Aged data visibility follows the current toggle.
func (e *Engine) Browse(ctx context.Context, scope string, jobID int64) ([]index.JobView, error) {
	req, err := e.request(ctx, scope, jobID)
	if err != nil {
		return nil, err
	}
	return e.browse.Browse(ctx, req)
}

// Restore streams the archive files of what Browse would return.
func (e *Engine) Restore(ctx context.Context, scope string, jobID int64) (<-chan index.ArchiveFile, <-chan error, error) {
	req, err := e.request(ctx, scope, jobID)
	if err != nil {
		return nil, nil, err
	}
	return e.browse.Restore(ctx, req)
}

func (e *Engine) request(ctx context.Context, scope string, jobID int64) (browse.Request, error) {
	show, err := e.settings.ShowAgedData(ctx)
	if err != nil {
		return browse.Request{}, err
	}
	return browse.Request{Scope: scope, JobID: jobID, ShowAgedData: show}, nil
}

// Info is the index-level status.
type Info struct {
	IndexID       string `json:"index_id"`
	LogSequence   uint64 `json:"log_sequence"`
	ConfigVersion uint64 `json:"config_version"`
	LiveJobs      int    `json:"live_jobs"`
	PrunedJobs    int    `json:"pruned_jobs"`
	ShowAgedData  bool   `json:"show_aged_data"`

	checkpoint.Info
}

// Info reports index properties and checkpoint bookkeeping.
func (e *Engine) Info(ctx context.Context) (*Info, error) {
	cp, err := e.checkpoints.Info(ctx)
	if err != nil {
		return nil, err
	}
	seq, err := e.store.LogSequence(ctx)
	if err != nil {
		return nil, err
	}
	ver, err := e.store.ConfigVersion(ctx)
	if err != nil {
		return nil, err
	}
	live, err := e.store.ListJobs(ctx, index.JobFilter{})
	if err != nil {
		return nil, err
	}
	pruned, err := e.store.ListPruneRecords(ctx, index.JobFilter{})
	if err != nil {
		return nil, err
	}
	show, err := e.settings.ShowAgedData(ctx)
	if err != nil {
		return nil, err
	}

	return &Info{
		IndexID:       e.id,
		LogSequence:   seq,
		ConfigVersion: ver,
		LiveJobs:      len(live),
		PrunedJobs:    len(pruned),
		ShowAgedData:  show,
		Info:          *cp,
	}, nil
}

// PendingIntents returns the number of unfinished prune batches.
func (e *Engine) PendingIntents(ctx context.Context) (int, error) {
	return e.compactor.Pending(ctx)
}

// Health pings the store and reports pending prune intents.
func (e *Engine) Health(ctx context.Context) (map[string]any, error) {
	if err := e.store.Ping(ctx); err != nil {
		return nil, err
	}
	pending, err := e.compactor.Pending(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"pending_intents":  pending,
		"checkpoint_state": e.checkpoints.State().String(),
	}, nil
}

// Close closes the store.
func (e *Engine) Close() error {
	return e.store.Close()
}
