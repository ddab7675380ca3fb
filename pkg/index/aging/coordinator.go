package aging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/indexretain/pkg/index"
	"mercator-hq/indexretain/pkg/telemetry/metrics"
)

// Event is a storage-aging notice for one job.
type Event struct {
	JobID  int64     `json:"job_id"`
	AgedAt time.Time `json:"aged_at"`
}

// Options configures a Coordinator.
type Options struct {
	IndexID string

	// Now stamps events that carry no time. Default: time.Now
	Now func() time.Time

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Coordinator records storage-aging markers and answers visibility queries.
type Coordinator struct {
	store   index.Store
	indexID string
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Collector
}

// New creates a Coordinator.
func New(store index.Store, opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		store:   store,
		indexID: opts.IndexID,
		now:     opts.Now,
		logger:  opts.Logger.With("component", "index.aging", "index_id", opts.IndexID),
		metrics: opts.Metrics,
	}
}

// OnStorageAged records a storage-aging marker. Repeated and out-of-order
// events are accepted; the last one written wins. Jobs the index does not
// know are recorded too.
func (c *Coordinator) OnStorageAged(ctx context.Context, ev Event) error {
	if ev.JobID <= 0 {
		c.metrics.RecordAgingEvent(c.indexID, "error")
		return index.NewInvalidJobError(ev.JobID, "job id must be positive")
	}
	if ev.AgedAt.IsZero() {
		ev.AgedAt = c.now()
	}

	if err := c.store.SetStorageAged(ctx, ev.JobID, ev.AgedAt); err != nil {
		c.metrics.RecordAgingEvent(c.indexID, "error")
		return fmt.Errorf("failed to record storage aging of job %d: %w", ev.JobID, err)
	}

	status, err := c.status(ctx, ev.JobID)
	if err != nil {
		return err
	}
	c.metrics.RecordAgingEvent(c.indexID, status)

	c.logger.Debug("storage aging recorded", "job_id", ev.JobID, "aged_at", ev.AgedAt, "status", status)
	return nil
}

func (c *Coordinator) status(ctx context.Context, jobID int64) (string, error) {
	_, err := c.store.GetJob(ctx, jobID)
	if err == nil {
		return "applied", nil
	}
	if !errors.Is(err, index.ErrNotFound) {
		return "", err
	}
	if _, err := c.store.GetPruneRecord(ctx, jobID); err == nil {
		return "applied", nil
	} else if !errors.Is(err, index.ErrNotFound) {
		return "", err
	}
	return "unknown_job", nil
}

// Run consumes events until the channel is closed or ctx is done. A failed
// event is logged and skipped; the feed redelivers.
func (c *Coordinator) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.OnStorageAged(ctx, ev); err != nil {
				c.logger.Error("storage aging event failed", "job_id", ev.JobID, "error", err)
			}
		}
	}
}

// IsVisible reports whether a job may be browsed. Live jobs are always
// visible, pruned jobs only with showAged, unknown jobs never.
func (c *Coordinator) IsVisible(ctx context.Context, jobID int64, showAged bool) (bool, string, error) {
	job, err := c.store.GetJob(ctx, jobID)
	switch {
	case err == nil:
		if job.Deleted {
			return true, index.ReasonOwnerDeleted, nil
		}
		return true, index.ReasonLive, nil
	case !errors.Is(err, index.ErrNotFound):
		return false, "", err
	}

	if _, err := c.store.GetPruneRecord(ctx, jobID); err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return false, "", nil
		}
		return false, "", err
	}
	if !showAged {
		return false, "", nil
	}
	return true, index.ReasonAgedOverride, nil
}

// StorageAged returns a job's marker, if any.
func (c *Coordinator) StorageAged(ctx context.Context, jobID int64) (time.Time, bool, error) {
	return c.store.StorageAged(ctx, jobID)
}
