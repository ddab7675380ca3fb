package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	// IndexIDKey is the context key for the index id.
	IndexIDKey contextKey = "index_id"

	// CheckpointSeqKey is the context key for the checkpoint sequence.
	CheckpointSeqKey contextKey = "checkpoint_seq"

	// BatchIDKey is the context key for the prune batch id.
	BatchIDKey contextKey = "batch_id"
)

// WithIndexID adds an index id to the context.
func WithIndexID(ctx context.Context, indexID string) context.Context {
	return context.WithValue(ctx, IndexIDKey, indexID)
}

// GetIndexID retrieves the index id from the context.
func GetIndexID(ctx context.Context) string {
	if id, ok := ctx.Value(IndexIDKey).(string); ok {
		return id
	}
	return ""
}

// WithCheckpointSeq adds a checkpoint sequence to the context.
func WithCheckpointSeq(ctx context.Context, seq uint64) context.Context {
	return context.WithValue(ctx, CheckpointSeqKey, seq)
}

// GetCheckpointSeq retrieves the checkpoint sequence from the context.
func GetCheckpointSeq(ctx context.Context) (uint64, bool) {
	seq, ok := ctx.Value(CheckpointSeqKey).(uint64)
	return seq, ok
}

// WithBatchID adds a prune batch id to the context.
func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, BatchIDKey, batchID)
}

// GetBatchID retrieves the prune batch id from the context.
func GetBatchID(ctx context.Context) string {
	if id, ok := ctx.Value(BatchIDKey).(string); ok {
		return id
	}
	return ""
}

// contextAttrs returns the log attributes carried by ctx.
func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr
	if id := GetIndexID(ctx); id != "" {
		attrs = append(attrs, slog.String(string(IndexIDKey), id))
	}
	if seq, ok := GetCheckpointSeq(ctx); ok {
		attrs = append(attrs, slog.Uint64(string(CheckpointSeqKey), seq))
	}
	if id := GetBatchID(ctx); id != "" {
		attrs = append(attrs, slog.String(string(BatchIDKey), id))
	}
	return attrs
}

// FromContext returns logger with the context's attributes attached, for
// code that logs without passing ctx along.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	attrs := contextAttrs(ctx)
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return logger.With(args...)
}

// contextHandler adds context attributes to each record.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := contextAttrs(ctx); len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}
