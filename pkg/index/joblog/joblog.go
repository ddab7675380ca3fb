package joblog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/indexretain/pkg/index"
	"mercator-hq/indexretain/pkg/telemetry/metrics"
)

// DefaultSkewTolerance is how far a job may start before the newest job of
// its subclient and still be accepted.
const DefaultSkewTolerance = 5 * time.Minute

// Reader is the read-only view of the log handed to evaluation and browse.
type Reader interface {
	// Get returns a live job or a JobNotFoundError.
	Get(ctx context.Context, jobID int64) (*index.Job, error)

	// Jobs returns live jobs matching filter, ordered by start time, with
	// CycleID populated.
	Jobs(ctx context.Context, filter index.JobFilter) ([]*index.Job, error)

	// Cycles returns the cycles of a subclient, oldest first.
	Cycles(ctx context.Context, subclientID string) (iter.Seq[index.Cycle], error)

	// Sequence returns the current log sequence.
	Sequence(ctx context.Context) (uint64, error)
}

// Options configures a JobLog.
type Options struct {
	// IndexID labels logs and metrics.
	IndexID string

	// SkewTolerance bounds accepted out-of-order starts.
	// Default: DefaultSkewTolerance
	SkewTolerance time.Duration

	// Now returns the current time. Default: time.Now
	Now func() time.Time

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// JobLog is the append-only ledger of completed backup jobs of one index.
// Appends and removals are serialized; reads go straight to the store.
//
// Only the compactor should hold a *JobLog. Other components take a Reader.
type JobLog struct {
	store   index.Store
	indexID string
	skew    time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Collector

	mu sync.Mutex
}

// New creates a JobLog over store.
func New(store index.Store, opts Options) *JobLog {
	if opts.SkewTolerance <= 0 {
		opts.SkewTolerance = DefaultSkewTolerance
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &JobLog{
		store:   store,
		indexID: opts.IndexID,
		skew:    opts.SkewTolerance,
		now:     opts.Now,
		logger:  opts.Logger.With("component", "index.joblog", "index_id", opts.IndexID),
		metrics: opts.Metrics,
	}
}

// Append records a completed job and returns the new log sequence.
//
// Unknown subclients are registered on first append under the job's
// backupset. A job without a backupset inherits the subclient's; a job
// naming another backupset is rejected.
func (l *JobLog) Append(ctx context.Context, job *index.Job) (uint64, error) {
	seq, err := l.append(ctx, job)
	l.metrics.RecordAppend(l.indexID, appendResult(err))
	return seq, err
}

func (l *JobLog) append(ctx context.Context, job *index.Job) (uint64, error) {
	if err := job.Validate(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// A pruned id can never come back.
	if _, err := l.store.GetPruneRecord(ctx, job.JobID); err == nil {
		return 0, index.NewDuplicateJobError(job.JobID, true)
	} else if !errors.Is(err, index.ErrNotFound) {
		return 0, err
	}

	entry := job.Clone()
	entry.CycleID = 0
	entry.Deleted = false

	if err := l.ensureOwner(ctx, entry); err != nil {
		return 0, err
	}

	latest, ok, err := l.store.LatestStart(ctx, entry.SubclientID)
	if err != nil {
		return 0, err
	}
	if ok && entry.StartTime.Before(latest.Add(-l.skew)) {
		return 0, index.NewOutOfOrderError(entry, latest, l.skew)
	}

	seq, err := l.store.InsertJob(ctx, entry)
	if errors.Is(err, index.ErrDuplicate) {
		return 0, index.NewDuplicateJobError(job.JobID, false)
	}
	if err != nil {
		return 0, err
	}

	l.logger.Debug("job appended",
		"job_id", entry.JobID,
		"backup_type", entry.Type,
		"subclient_id", entry.SubclientID,
		"log_sequence", seq,
	)
	return seq, nil
}

// ensureOwner registers the job's subclient and backupset when first seen and
// rejects appends to a deleted subclient.
func (l *JobLog) ensureOwner(ctx context.Context, job *index.Job) error {
	sc, err := l.store.GetSubclient(ctx, job.SubclientID)
	switch {
	case err == nil:
		if sc.Deleted {
			return &index.SubclientDeletedError{SubclientID: sc.ID}
		}
		switch job.BackupsetID {
		case "":
			job.BackupsetID = sc.BackupsetID
		case sc.BackupsetID:
		default:
			return index.NewInvalidJobError(job.JobID,
				fmt.Sprintf("subclient %s belongs to backupset %q, not %q", sc.ID, sc.BackupsetID, job.BackupsetID))
		}
		return nil
	case !errors.Is(err, index.ErrNotFound):
		return err
	}

	if job.BackupsetID != "" {
		if _, err := l.store.GetBackupset(ctx, job.BackupsetID); errors.Is(err, index.ErrNotFound) {
			if _, err := l.store.UpsertBackupset(ctx, &index.Backupset{ID: job.BackupsetID}); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
	}

	if _, err := l.store.UpsertSubclient(ctx, &index.Subclient{
		ID:          job.SubclientID,
		BackupsetID: job.BackupsetID,
	}); err != nil {
		return err
	}

	l.logger.Info("subclient registered",
		"subclient_id", job.SubclientID,
		"backupset_id", job.BackupsetID,
	)
	return nil
}

// Get returns a live job with its CycleID populated.
func (l *JobLog) Get(ctx context.Context, jobID int64) (*index.Job, error) {
	job, err := l.store.GetJob(ctx, jobID)
	if errors.Is(err, index.ErrNotFound) {
		return nil, index.NewJobNotFoundError(jobID)
	}
	if err != nil {
		return nil, err
	}

	siblings, err := l.store.ListJobs(ctx, index.JobFilter{SubclientID: job.SubclientID})
	if err != nil {
		return nil, err
	}
	index.AssignCycleIDs(siblings)
	for _, s := range siblings {
		if s.JobID == jobID {
			return s, nil
		}
	}
	return job, nil
}

// Jobs returns live jobs matching filter with CycleID populated.
func (l *JobLog) Jobs(ctx context.Context, filter index.JobFilter) ([]*index.Job, error) {
	jobs, err := l.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}

	// Cycles are per subclient.
	bySubclient := make(map[string][]*index.Job)
	for _, j := range jobs {
		bySubclient[j.SubclientID] = append(bySubclient[j.SubclientID], j)
	}
	for _, group := range bySubclient {
		index.AssignCycleIDs(group)
	}
	return jobs, nil
}

// Cycles returns the cycles of a subclient over a snapshot of its live jobs.
// The returned sequence can be ranged over repeatedly.
func (l *JobLog) Cycles(ctx context.Context, subclientID string) (iter.Seq[index.Cycle], error) {
	jobs, err := l.store.ListJobs(ctx, index.JobFilter{SubclientID: subclientID})
	if err != nil {
		return nil, fmt.Errorf("list jobs of subclient %s: %w", subclientID, err)
	}
	return index.GroupCycles(jobs), nil
}

// Sequence returns the current log sequence.
func (l *JobLog) Sequence(ctx context.Context) (uint64, error) {
	return l.store.LogSequence(ctx)
}

// Remove deletes a job from the log and records rec in the same step.
// Returns a JobNotFoundError when the job is not live.
func (l *JobLog) Remove(ctx context.Context, jobID int64, rec *index.PruneRecord) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq, err := l.store.RemoveJob(ctx, jobID, rec)
	if errors.Is(err, index.ErrNotFound) {
		return 0, index.NewJobNotFoundError(jobID)
	}
	return seq, err
}

// DeleteSubclient marks a subclient and its jobs deleted. The jobs stay in the
// log and keep following retention.
func (l *JobLog) DeleteSubclient(ctx context.Context, subclientID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sc, err := l.store.GetSubclient(ctx, subclientID)
	if err != nil {
		return err
	}
	if sc.Deleted {
		return nil
	}

	seq, err := l.store.MarkSubclientDeleted(ctx, subclientID, l.now())
	if err != nil {
		return err
	}

	l.logger.Info("subclient deleted", "subclient_id", subclientID, "log_sequence", seq)
	return nil
}

// DeleteBackupset marks a backupset and every one of its subclients deleted.
func (l *JobLog) DeleteBackupset(ctx context.Context, backupsetID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	subclients, err := l.store.ListSubclients(ctx)
	if err != nil {
		return err
	}

	found := false
	if err := l.store.MarkBackupsetDeleted(ctx, backupsetID); err == nil {
		found = true
	} else if !errors.Is(err, index.ErrNotFound) {
		return err
	}

	at := l.now()
	for _, sc := range subclients {
		if sc.BackupsetID != backupsetID {
			continue
		}
		found = true
		if sc.Deleted {
			continue
		}
		if _, err := l.store.MarkSubclientDeleted(ctx, sc.ID, at); err != nil {
			return fmt.Errorf("delete subclient %s: %w", sc.ID, err)
		}
	}

	if !found {
		return fmt.Errorf("backupset %s: %w", backupsetID, index.ErrNotFound)
	}

	l.logger.Info("backupset deleted", "backupset_id", backupsetID)
	return nil
}

func appendResult(err error) string {
	if err == nil {
		return "ok"
	}

	var (
		invalid    *index.InvalidJobError
		duplicate  *index.DuplicateJobError
		outOfOrder *index.OutOfOrderError
		deleted    *index.SubclientDeletedError
	)
	switch {
	case errors.As(err, &invalid):
		return "invalid"
	case errors.As(err, &duplicate):
		return "duplicate"
	case errors.As(err, &outOfOrder):
		return "out_of_order"
	case errors.As(err, &deleted):
		return "subclient_deleted"
	default:
		return "error"
	}
}

var _ Reader = (*JobLog)(nil)
