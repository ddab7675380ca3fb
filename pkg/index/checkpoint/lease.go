package checkpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/danjacques/gofslock/fslock"
)

// lease grants exclusive checkpoint rights for one index. The in-process
// mutex is always taken; the lock file only when a directory is set.
type lease struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// unlocker is the part of fslock.Handle the lease releases.
type unlocker interface {
	Unlock() error
}

func newLease(lockDir, indexID string) *lease {
	l := &lease{logger: slog.Default()}
	if lockDir != "" {
		l.path = filepath.Join(lockDir, indexID+".checkpoint.lock")
	}
	return l
}

// tryAcquire returns a release function, or ok=false when another holder
// has the lease.
func (l *lease) tryAcquire() (release func(), ok bool, err error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	if l.path == "" {
		return l.mu.Unlock, true, nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		l.mu.Unlock()
		return nil, false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	h, err := fslock.Lock(l.path)
	switch {
	case errors.Is(err, fslock.ErrLockHeld):
		l.mu.Unlock()
		return nil, false, nil
	case err != nil:
		l.mu.Unlock()
		return nil, false, fmt.Errorf("failed to lock %s: %w", l.path, err)
	}

	return func() {
		l.unlock(h)
		l.mu.Unlock()
	}, true, nil
}

// unlock releases the lock file. A failure is logged; the lock is dropped
// with the file descriptor at exit in any case.
func (l *lease) unlock(h unlocker) {
	if err := h.Unlock(); err != nil {
		l.logger.Error("failed to release checkpoint lock", "path", l.path, "error", err)
	}
}

// holder describes the lease for conflict errors.
func (l *lease) holder() string {
	if l.path == "" {
		return "in-process"
	}
	return l.path
}
