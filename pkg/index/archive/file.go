package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileArchiver writes each batch to its own JSON file below a directory.
type FileArchiver struct {
	dir    string
	logger *slog.Logger
}

// NewFileArchiver creates an archiver rooted at dir.
func NewFileArchiver(dir string) (*FileArchiver, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive path is required")
	}
	return &FileArchiver{
		dir:    dir,
		logger: slog.Default().With("component", "index.archive", "backend", "file"),
	}, nil
}

// Name implements Archiver.
func (a *FileArchiver) Name() string { return "file" }

// Archive writes the batch to a temporary file and renames it into place.
func (a *FileArchiver) Archive(ctx context.Context, batch *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := filepath.Join(a.dir, filepath.FromSlash(objectName(batch)))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".batch-*")
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, batch, true); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync archive file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close archive file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move archive file into place: %w", err)
	}

	a.logger.Info("prune batch archived",
		"archive_file", path,
		"batch_id", batch.ID,
		"job_count", len(batch.Jobs),
	)
	return nil
}
