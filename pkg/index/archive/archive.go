package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"mercator-hq/indexretain/pkg/config"
	"mercator-hq/indexretain/pkg/index"
)

// Batch is the archived form of one prune batch.
type Batch struct {
	ID            string       `json:"batch_id"`
	IndexID       string       `json:"index_id"`
	CheckpointSeq uint64       `json:"checkpoint_seq"`
	CreatedAt     time.Time    `json:"created_at"`
	Jobs          []*index.Job `json:"jobs"`
}

// Archiver stores prune batches.
type Archiver interface {
	// Name identifies the backend in errors and logs.
	Name() string

	// Archive durably stores a batch. It must not return before the batch
	// is stored.
	Archive(ctx context.Context, batch *Batch) error
}

// New builds the archiver described by cfg. It returns nil when archiving is
// disabled.
func New(cfg config.ArchiveConfig) (Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Backend {
	case "", "file":
		a, err := NewFileArchiver(cfg.Path)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "s3":
		a, err := NewS3Archiver(cfg.S3)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unsupported archive backend: %s", cfg.Backend)
	}
}

// Encode writes batch as JSON.
func Encode(w io.Writer, batch *Batch, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(batch); err != nil {
		return fmt.Errorf("failed to encode batch %s: %w", batch.ID, err)
	}
	return nil
}

// Decode reads a batch written by Encode.
func Decode(r io.Reader) (*Batch, error) {
	var batch Batch
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}
	return &batch, nil
}

// objectName is the file or object name of a batch.
func objectName(batch *Batch) string {
	return fmt.Sprintf("%s/prune-%06d-%s.json", batch.IndexID, batch.CheckpointSeq, batch.ID)
}
