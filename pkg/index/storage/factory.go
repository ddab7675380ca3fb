package storage

import (
	"fmt"
	"time"

	"mercator-hq/indexretain/pkg/index"
)

// Config selects and configures a storage backend.
type Config struct {
	// Backend is "memory" or "sqlite".
	Backend string

	// Driver is the SQLite driver name ("sqlite" or "sqlite3").
	Driver string

	// Path is the SQLite database file.
	Path string

	// WALMode enables SQLite write-ahead logging.
	WALMode bool

	// BusyTimeout bounds how long SQLite waits on a lock held by another process.
	BusyTimeout time.Duration
}

// New creates the backend named by cfg.Backend.
func New(cfg Config) (index.Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "", "sqlite":
		return NewSQLiteStore(&SQLiteConfig{
			Path:        cfg.Path,
			Driver:      cfg.Driver,
			WALMode:     cfg.WALMode,
			BusyTimeout: cfg.BusyTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
