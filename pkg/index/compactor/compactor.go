package compactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"mercator-hq/indexretain/pkg/index"
	"mercator-hq/indexretain/pkg/index/archive"
	"mercator-hq/indexretain/pkg/index/joblog"
	"mercator-hq/indexretain/pkg/telemetry/metrics"
	"mercator-hq/indexretain/pkg/telemetry/tracing"
)

// Verifier re-checks the eligibility of jobs whose owner was deleted.
// *retention.Policy satisfies it.
type Verifier interface {
	EligibleForPruning(ctx context.Context, subclientID string, asOf time.Time) (index.JobSet, error)
}

// Plan is one batch handed over by a checkpoint.
type Plan struct {
	CheckpointSeq uint64
	AsOf          time.Time
	JobIDs        []int64
}

// BatchResult reports what happened to every job of a batch.
type BatchResult struct {
	BatchID       string
	Requested     int
	Pruned        int
	AlreadyPruned int

	// Failures maps job ids that could not be pruned to the reason.
	// Those jobs stay in the log and are candidates again next time.
	Failures map[int64]error
}

// Failed returns the number of failed jobs.
func (r *BatchResult) Failed() int {
	return len(r.Failures)
}

// Options configures a Compactor.
type Options struct {
	IndexID string

	// Archiver, when set, receives every batch before anything is removed.
	Archiver archive.Archiver

	// Now returns the current time. Default: time.Now
	Now func() time.Time

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Compactor removes jobs from a JobLog in crash-safe batches.
type Compactor struct {
	store    index.Store
	log      *joblog.JobLog
	verifier Verifier
	archiver archive.Archiver
	indexID  string
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// New creates a Compactor. The intents live in store; jobs are removed
// through log.
func New(store index.Store, log *joblog.JobLog, verifier Verifier, opts Options) *Compactor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Compactor{
		store:    store,
		log:      log,
		verifier: verifier,
		archiver: opts.Archiver,
		indexID:  opts.IndexID,
		now:      opts.Now,
		logger:   opts.Logger.With("component", "index.compactor", "index_id", opts.IndexID),
		metrics:  opts.Metrics,
	}
}

// Compact prunes the jobs of plan. Per-job failures are reported in the
// result; an error means the batch could not be started or its intent could
// not be cleared.
func (c *Compactor) Compact(ctx context.Context, plan Plan) (result *BatchResult, err error) {
	ids := slices.Clone(plan.JobIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	intent := &index.PruneIntent{
		BatchID:       uuid.NewString(),
		CheckpointSeq: plan.CheckpointSeq,
		AsOf:          plan.AsOf,
		JobIDs:        ids,
		CreatedAt:     c.now(),
	}
	if len(ids) == 0 {
		return &BatchResult{BatchID: intent.BatchID, Failures: map[int64]error{}}, nil
	}

	ctx, span := tracing.Start(ctx, "compactor.batch",
		tracing.BatchID(intent.BatchID),
		tracing.CheckpointSeq(plan.CheckpointSeq),
		tracing.JobCount(len(ids)),
	)
	defer func() {
		if result != nil {
			span.SetAttributes(tracing.PruneOutcome(result.Pruned, result.Failed())...)
		}
		tracing.End(span, err)
	}()

	logger := c.logger.With("batch_id", intent.BatchID, "checkpoint_seq", plan.CheckpointSeq)

	if err := c.archive(ctx, intent); err != nil {
		logger.Error("archive failed, batch aborted", "job_count", len(ids), "error", err)
		return nil, err
	}

	if err := c.store.PutPruneIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to record prune intent: %w", err)
	}
	c.refreshPending(ctx)

	result, err = c.apply(ctx, intent, logger)
	if err != nil {
		// The intent stays behind for Recover.
		return result, err
	}

	if err := c.store.DeletePruneIntent(ctx, intent.BatchID); err != nil {
		return result, fmt.Errorf("failed to clear prune intent %s: %w", intent.BatchID, err)
	}
	c.refreshPending(ctx)

	logger.Info("prune batch completed",
		"requested", result.Requested,
		"pruned", result.Pruned,
		"already_pruned", result.AlreadyPruned,
		"failed", result.Failed(),
	)
	return result, nil
}

// Recover replays every pending intent and returns how many were replayed.
func (c *Compactor) Recover(ctx context.Context) (int, error) {
	intents, err := c.store.ListPruneIntents(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list prune intents: %w", err)
	}

	for i, intent := range intents {
		logger := c.logger.With("batch_id", intent.BatchID, "checkpoint_seq", intent.CheckpointSeq)
		logger.Warn("replaying unfinished prune batch", "job_count", len(intent.JobIDs))

		result, err := c.apply(ctx, intent, logger)
		if err != nil {
			return i, fmt.Errorf("failed to replay prune intent %s: %w", intent.BatchID, err)
		}
		if err := c.store.DeletePruneIntent(ctx, intent.BatchID); err != nil {
			return i, fmt.Errorf("failed to clear prune intent %s: %w", intent.BatchID, err)
		}

		logger.Info("prune batch recovered",
			"pruned", result.Pruned,
			"already_pruned", result.AlreadyPruned,
			"failed", result.Failed(),
		)
	}

	c.refreshPending(ctx)
	return len(intents), nil
}

// Pending returns the number of unfinished prune intents.
func (c *Compactor) Pending(ctx context.Context) (int, error) {
	intents, err := c.store.ListPruneIntents(ctx)
	if err != nil {
		return 0, err
	}
	return len(intents), nil
}

// apply handles every job of an intent. It only stops early when ctx is
// done.
func (c *Compactor) apply(ctx context.Context, intent *index.PruneIntent, logger *slog.Logger) (*BatchResult, error) {
	result := &BatchResult{
		BatchID:   intent.BatchID,
		Requested: len(intent.JobIDs),
		Failures:  make(map[int64]error),
	}
	defer func() {
		c.metrics.RecordPruned(c.indexID, result.Pruned, result.Failed(), result.AlreadyPruned)
	}()

	// Eligibility of deleted-owner jobs, per subclient.
	verified := make(map[string]index.JobSet)

	for _, id := range intent.JobIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		pruned, err := c.pruneOne(ctx, id, intent, verified)
		switch {
		case err != nil:
			result.Failures[id] = err
			logger.Warn("job not pruned", "job_id", id, "error", err)
		case pruned:
			result.Pruned++
		default:
			result.AlreadyPruned++
		}
	}
	return result, nil
}

// pruneOne removes a single job. It returns false with a nil error when the
// job had already been pruned.
func (c *Compactor) pruneOne(ctx context.Context, id int64, intent *index.PruneIntent, verified map[string]index.JobSet) (bool, error) {
	job, err := c.log.Get(ctx, id)
	if err != nil {
		return c.alreadyPruned(ctx, id, err)
	}

	if job.Deleted {
		set, ok := verified[job.SubclientID]
		if !ok {
			set, err = c.verifier.EligibleForPruning(ctx, job.SubclientID, intent.AsOf)
			if err != nil {
				return false, fmt.Errorf("failed to verify retention of job %d: %w", id, err)
			}
			verified[job.SubclientID] = set
		}
		if !set.Has(id) {
			return false, &index.RetainedJobError{JobID: id, SubclientID: job.SubclientID}
		}
	}

	rec := &index.PruneRecord{
		JobID:         id,
		PrunedAt:      c.now(),
		CheckpointSeq: intent.CheckpointSeq,
		Snapshot:      *job,
	}
	if _, err := c.log.Remove(ctx, id, rec); err != nil {
		return c.alreadyPruned(ctx, id, err)
	}
	return true, nil
}

// alreadyPruned turns a not-found error into success when a prune record
// exists for id.
func (c *Compactor) alreadyPruned(ctx context.Context, id int64, cause error) (bool, error) {
	if !errors.Is(cause, index.ErrNotFound) {
		return false, cause
	}
	if _, err := c.store.GetPruneRecord(ctx, id); err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return false, cause
		}
		return false, err
	}
	return false, nil
}

func (c *Compactor) archive(ctx context.Context, intent *index.PruneIntent) error {
	if c.archiver == nil {
		return nil
	}

	batch := &archive.Batch{
		ID:            intent.BatchID,
		IndexID:       c.indexID,
		CheckpointSeq: intent.CheckpointSeq,
		CreatedAt:     intent.CreatedAt,
	}
	for _, id := range intent.JobIDs {
		job, err := c.log.Get(ctx, id)
		if errors.Is(err, index.ErrNotFound) {
			continue
		}
		if err != nil {
			return index.NewArchiveError(c.archiver.Name(), len(intent.JobIDs), err)
		}
		batch.Jobs = append(batch.Jobs, job)
	}
	if len(batch.Jobs) == 0 {
		return nil
	}

	if err := c.archiver.Archive(ctx, batch); err != nil {
		return index.NewArchiveError(c.archiver.Name(), len(batch.Jobs), err)
	}
	return nil
}

func (c *Compactor) refreshPending(ctx context.Context) {
	if n, err := c.Pending(ctx); err == nil {
		c.metrics.SetPendingIntents(c.indexID, n)
	}
}
