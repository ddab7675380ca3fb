package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"mercator-hq/indexretain/pkg/config"
	"mercator-hq/indexretain/pkg/index"
	"mercator-hq/indexretain/pkg/index/archive"
	"mercator-hq/indexretain/pkg/index/checkpoint"
	"mercator-hq/indexretain/pkg/telemetry/health"
)

// Registry holds the engine of every configured index.
type Registry struct {
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	engines map[string]*Engine
}

// NewRegistry opens an engine per configured index. When opts.Archiver is
// nil one is built from cfg.Archive.
func NewRegistry(ctx context.Context, cfg *config.Config, opts Options) (*Registry, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Archiver == nil {
		a, err := archive.New(cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("failed to create archiver: %w", err)
		}
		opts.Archiver = a
	}

	r := &Registry{
		opts:    opts,
		logger:  opts.Logger.With("component", "index.registry"),
		engines: make(map[string]*Engine, len(cfg.Indexes)),
	}

	for _, idx := range cfg.Indexes {
		e, err := Open(ctx, cfg, idx, opts)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.engines[idx.ID] = e
	}

	r.logger.Info("indexes opened", "count", len(r.engines))
	return r, nil
}

// Get returns the engine of an index.
func (r *Registry) Get(indexID string) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.engines[indexID]
	if !ok {
		return nil, fmt.Errorf("index %q: %w", indexID, index.ErrNotFound)
	}
	return e, nil
}

// IndexIDs returns the ids of every open index, sorted.
func (r *Registry) IndexIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// RunCheckpoint runs one checkpoint of an index.
func (r *Registry) RunCheckpoint(ctx context.Context, indexID string) (*checkpoint.Result, error) {
	e, err := r.Get(indexID)
	if err != nil {
		return nil, err
	}
	return e.RunCheckpoint(ctx)
}

// Apply pushes a reloaded configuration to every engine and opens indexes
// that were added. Indexes removed from the configuration keep running until
// restart.
func (r *Registry) Apply(ctx context.Context, cfg *config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	seen := make(map[string]bool, len(cfg.Indexes))
	for _, idx := range cfg.Indexes {
		seen[idx.ID] = true

		if e, ok := r.engines[idx.ID]; ok {
			if err := e.Apply(ctx, cfg, idx); err != nil {
				errs = append(errs, fmt.Errorf("index %s: %w", idx.ID, err))
			}
			continue
		}

		e, err := Open(ctx, cfg, idx, r.opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.engines[idx.ID] = e
		r.logger.Info("index added", "index_id", idx.ID)
	}

	for id := range r.engines {
		if !seen[id] {
			r.logger.Warn("index removed from configuration, still open until restart", "index_id", id)
		}
	}
	return errors.Join(errs...)
}

// RegisterHealth adds a readiness report per index. An index is ready when
// its store answers; the report carries its pending prune intents and
// checkpoint state.
func (r *Registry) RegisterHealth(checker *health.Checker) {
	for _, id := range r.IndexIDs() {
		checker.RegisterReport("index:"+id, func(ctx context.Context) (map[string]any, error) {
			e, err := r.Get(id)
			if err != nil {
				return nil, err
			}
			return e.Health(ctx)
		})
	}
}

// Close closes every engine.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for id, e := range r.engines {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("index %s: %w", id, err))
		}
	}
	r.engines = map[string]*Engine{}
	return errors.Join(errs...)
}

var _ checkpoint.Runner = (*Registry)(nil)
