package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/indexretain/pkg/index"
	"mercator-hq/indexretain/pkg/telemetry/logging"
)

// Runner runs checkpoints for a set of indexes.
type Runner interface {
	RunCheckpoint(ctx context.Context, indexID string) (*Result, error)
	IndexIDs() []string
}

// Scheduler triggers checkpoints of every index on a cron schedule.
// A checkpoint that conflicts with a running one is skipped and picked up on
// the next tick.
type Scheduler struct {
	runner   Runner
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewScheduler creates a scheduler. timeout bounds each tick; zero means no
// bound.
func NewScheduler(runner Runner, schedule string, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		timeout:  timeout,
		cron:     cron.New(),
		logger:   logger.With("component", "index.scheduler"),
	}
}

// Start registers the schedule and starts the cron loop. The scheduler stops
// when ctx is cancelled. An empty schedule disables it.
//
// Common cron expressions:
//   - "0 */6 * * *"  - Every 6 hours
//   - "0 3 * * *"    - Daily at 3 AM
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("checkpoint schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule checkpoints: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("checkpoint scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Tick runs one checkpoint per index.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	for _, id := range s.runner.IndexIDs() {
		if ctx.Err() != nil {
			return
		}

		ictx := logging.WithIndexID(ctx, id)
		logger := logging.FromContext(ictx, s.logger)

		result, err := s.runner.RunCheckpoint(ictx, id)
		var conflict *index.CheckpointConflictError
		switch {
		case errors.As(err, &conflict):
			logger.Warn("checkpoint already running, retrying next tick")
		case err != nil:
			logger.Error("scheduled checkpoint failed", "error", err)
		case result.NoOp:
			logger.Debug("scheduled checkpoint was a no-op")
		default:
			logger.Info("scheduled checkpoint completed",
				"checkpoint_seq", result.CheckpointSeq,
				"pruned", result.Pruned,
				"failed", result.Failed,
			)
		}
	}
}

// Stop stops the scheduler and waits for a running tick to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("checkpoint scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled checkpoint time, or nil when stopped.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if !s.running || len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
