// Package storage provides the index.Store backends.
//
// # Backends
//
//   - SQLite: one database file per index, the production backend
//   - Memory: in-memory maps for tests and throwaway indexes
//
// # SQLite Backend
//
// Two drivers are supported and selected with SQLiteConfig.Driver:
//
//   - "sqlite": modernc.org/sqlite, pure Go (default)
//   - "sqlite3": github.com/mattn/go-sqlite3, requires cgo
//
// The pool is pinned to a single connection. Every mutation that touches jobs
// runs in one transaction together with the log sequence increment, so a job
// removal and its prune record can never be observed apart.
//
// # Basic Usage
//
//	store, err := storage.New(storage.Config{
//	    Backend: "sqlite",
//	    Path:    "data/idx-01.db",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	seq, err := store.InsertJob(ctx, job)
package storage
