package browse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"mercator-hq/indexretain/pkg/index"
	"mercator-hq/indexretain/pkg/index/joblog"
	"mercator-hq/indexretain/pkg/telemetry/metrics"
	"mercator-hq/indexretain/pkg/telemetry/tracing"
)

// Request is one browse or restore query.
type Request struct {
	// Scope is a subclient or backupset id.
	Scope string `json:"scope"`

	// JobID selects one job; 0 lists the whole scope.
	JobID int64 `json:"job_id,omitempty"`

	// ShowAgedData makes pruned jobs visible.
	ShowAgedData bool `json:"show_aged_data"`
}

// Visibility decides whether a job outside the log may be shown.
type Visibility interface {
	IsVisible(ctx context.Context, jobID int64, showAged bool) (bool, string, error)
}

// Options configures a Resolver.
type Options struct {
	IndexID string
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Resolver resolves browse and restore queries.
type Resolver struct {
	store      index.Store
	log        joblog.Reader
	visibility Visibility
	indexID    string
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// New creates a Resolver.
func New(store index.Store, log joblog.Reader, visibility Visibility, opts Options) *Resolver {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Resolver{
		store:      store,
		log:        log,
		visibility: visibility,
		indexID:    opts.IndexID,
		logger:     opts.Logger.With("component", "index.browse", "index_id", opts.IndexID),
		metrics:    opts.Metrics,
	}
}

// resolved pairs a view with the job record it came from.
type resolved struct {
	view index.JobView
	job  *index.Job
}

// Browse returns the visible jobs of a scope, ordered by start time.
func (r *Resolver) Browse(ctx context.Context, req Request) (_ []index.JobView, err error) {
	ctx, span := tracing.Start(ctx, "browse.resolve", tracing.IndexID(r.indexID))
	span.SetAttributes(tracing.BrowseRequest(req.Scope, req.JobID, req.ShowAgedData)...)
	defer func() { tracing.End(span, err) }()

	found, err := r.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	r.metrics.RecordBrowse(r.indexID, "browse", len(found))

	views := make([]index.JobView, len(found))
	for i, f := range found {
		views[i] = f.view
	}
	return views, nil
}

// Restore streams the archive files of every job Browse would return.
// Returns a NotFoundError when Browse would return nothing. The file channel
// is closed when streaming ends; the error channel then carries at most one
// error.
func (r *Resolver) Restore(ctx context.Context, req Request) (_ <-chan index.ArchiveFile, _ <-chan error, err error) {
	ctx, span := tracing.Start(ctx, "browse.restore", tracing.IndexID(r.indexID))
	span.SetAttributes(tracing.BrowseRequest(req.Scope, req.JobID, req.ShowAgedData)...)
	defer func() { tracing.End(span, err) }()

	found, err := r.resolve(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	r.metrics.RecordBrowse(r.indexID, "restore", len(found))

	if len(found) == 0 {
		return nil, nil, &index.NotFoundError{Scope: req.Scope, JobID: req.JobID}
	}

	files := make(chan index.ArchiveFile)
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		defer close(files)

		for _, f := range found {
			for _, file := range f.job.ArchiveFiles {
				select {
				case files <- file:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
		}
	}()

	r.logger.Info("restore started", "scope", req.Scope, "job_id", req.JobID, "jobs", len(found))
	return files, errc, nil
}

func (r *Resolver) resolve(ctx context.Context, req Request) ([]resolved, error) {
	if req.JobID < 0 {
		return nil, index.NewInvalidJobError(req.JobID, "job id must not be negative")
	}

	inScope, err := r.scope(ctx, req.Scope)
	if err != nil {
		return nil, err
	}

	if req.JobID > 0 {
		f, ok, err := r.resolveJob(ctx, req, inScope)
		if err != nil || !ok {
			return nil, err
		}
		_, f.view.StorageAged, err = r.store.StorageAged(ctx, f.job.JobID)
		if err != nil {
			return nil, fmt.Errorf("failed to read storage aging marker of job %d: %w", f.job.JobID, err)
		}
		return []resolved{f}, nil
	}

	aged, err := r.store.ListStorageAged(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage aging markers: %w", err)
	}

	filter := inScope.filter()
	live, err := r.log.Jobs(ctx, filter)
	if err != nil {
		return nil, err
	}

	found := make([]resolved, 0, len(live))
	for _, job := range live {
		found = append(found, newResolved(job, liveReason(job)))
	}

	if req.ShowAgedData {
		records, err := r.store.ListPruneRecords(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			snap := rec.Snapshot.Clone()
			found = append(found, newResolved(snap, index.ReasonAgedOverride))
		}
	}

	for i := range found {
		_, found[i].view.StorageAged = aged[found[i].job.JobID]
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i].job, found[j].job
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		return a.JobID < b.JobID
	})
	return found, nil
}

// resolveJob looks a single job up in the log, then among pruned jobs.
func (r *Resolver) resolveJob(ctx context.Context, req Request, inScope scope) (resolved, bool, error) {
	job, err := r.log.Get(ctx, req.JobID)
	switch {
	case err == nil:
		if !inScope.contains(job) {
			return resolved{}, false, nil
		}
		return newResolved(job, liveReason(job)), true, nil
	case !errors.Is(err, index.ErrNotFound):
		return resolved{}, false, err
	}

	visible, reason, err := r.visibility.IsVisible(ctx, req.JobID, req.ShowAgedData)
	if err != nil || !visible {
		return resolved{}, false, err
	}

	rec, err := r.store.GetPruneRecord(ctx, req.JobID)
	if errors.Is(err, index.ErrNotFound) {
		return resolved{}, false, nil
	}
	if err != nil {
		return resolved{}, false, err
	}

	snap := rec.Snapshot.Clone()
	if !inScope.contains(snap) {
		return resolved{}, false, nil
	}
	return newResolved(snap, reason), true, nil
}

// scope is a resolved browse scope.
type scope struct {
	subclientID string
	backupsetID string
}

func (s scope) filter() index.JobFilter {
	return index.JobFilter{SubclientID: s.subclientID, BackupsetID: s.backupsetID}
}

func (s scope) contains(job *index.Job) bool {
	if s.subclientID != "" {
		return job.SubclientID == s.subclientID
	}
	return job.BackupsetID == s.backupsetID
}

// scope resolves id as a subclient, then as a backupset. Deleted owners
// remain valid scopes.
func (r *Resolver) scope(ctx context.Context, id string) (scope, error) {
	if id == "" {
		return scope{}, &index.UnknownScopeError{Scope: id}
	}

	if _, err := r.store.GetSubclient(ctx, id); err == nil {
		return scope{subclientID: id}, nil
	} else if !errors.Is(err, index.ErrNotFound) {
		return scope{}, err
	}

	if _, err := r.store.GetBackupset(ctx, id); err == nil {
		return scope{backupsetID: id}, nil
	} else if !errors.Is(err, index.ErrNotFound) {
		return scope{}, err
	}

	// Backupsets only named by their subclients.
	subclients, err := r.store.ListSubclients(ctx)
	if err != nil {
		return scope{}, err
	}
	for _, sc := range subclients {
		if sc.BackupsetID == id {
			return scope{backupsetID: id}, nil
		}
	}
	return scope{}, &index.UnknownScopeError{Scope: id}
}

func liveReason(job *index.Job) string {
	if job.Deleted {
		return index.ReasonOwnerDeleted
	}
	return index.ReasonLive
}

func newResolved(job *index.Job, reason string) resolved {
	return resolved{
		job: job,
		view: index.JobView{
			JobID:         job.JobID,
			CycleID:       job.CycleID,
			BackupType:    job.Type,
			SubclientID:   job.SubclientID,
			BackupsetID:   job.BackupsetID,
			StartTime:     job.StartTime,
			EndTime:       job.EndTime,
			VisibleReason: reason,
		},
	}
}
