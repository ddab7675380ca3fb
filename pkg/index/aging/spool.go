package aging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// SpoolWatcher turns JSON notices dropped into a directory into Events.
//
// Each *.json file holds one object {"job_id": 12, "aged_at": "<RFC 3339>"}.
// A file is removed once its event has been handed to the channel, so a
// crash between the two redelivers it. Producers should write to a temporary
// name and rename into place; a partially written file is skipped until the
// next write to it.
type SpoolWatcher struct {
	dir    string
	logger *slog.Logger
}

// NewSpoolWatcher creates a watcher for dir.
func NewSpoolWatcher(dir string, logger *slog.Logger) *SpoolWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpoolWatcher{
		dir:    dir,
		logger: logger.With("component", "index.aging.spool", "dir", dir),
	}
}

// Run delivers files already in the directory, then watches for new ones
// until ctx is cancelled.
func (w *SpoolWatcher) Run(ctx context.Context, events chan<- Event) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create spool directory %q: %w", w.dir, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", w.dir, err)
	}

	// Files dropped before the watch was added.
	if err := w.drain(ctx, events); err != nil {
		return err
	}

	w.logger.Info("spool watcher started")

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !isNotice(ev.Name) || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if err := w.deliver(ctx, ev.Name, events); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Warn("spool file skipped", "file", ev.Name, "error", err)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("spool watcher error", "error", err)
		}
	}
}

func (w *SpoolWatcher) drain(ctx context.Context, events chan<- Event) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read spool directory %q: %w", w.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isNotice(e.Name()) {
			names = append(names, filepath.Join(w.dir, e.Name()))
		}
	}
	slices.Sort(names)

	for _, name := range names {
		if err := w.deliver(ctx, name, events); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("spool file skipped", "file", name, "error", err)
		}
	}
	return nil
}

func (w *SpoolWatcher) deliver(ctx context.Context, path string, events chan<- Event) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		// Already delivered on an earlier event.
		return nil
	}
	if err != nil {
		return err
	}

	ev, err := ParseNotice(data)
	if err != nil {
		return err
	}

	select {
	case events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove delivered notice: %w", err)
	}
	w.logger.Debug("spool notice delivered", "file", filepath.Base(path), "job_id", ev.JobID)
	return nil
}

// ParseNotice decodes one spool file.
func ParseNotice(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("invalid storage aging notice: %w", err)
	}
	if ev.JobID <= 0 {
		return Event{}, fmt.Errorf("invalid storage aging notice: job_id must be positive")
	}
	return ev, nil
}

func isNotice(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, ".json") && !strings.HasPrefix(base, ".")
}
