package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	if GetIndexID(ctx) != "" || GetBatchID(ctx) != "" {
		t.Error("empty context should carry no values")
	}
	if _, ok := GetCheckpointSeq(ctx); ok {
		t.Error("empty context should carry no checkpoint sequence")
	}

	ctx = WithIndexID(ctx, "idx")
	ctx = WithCheckpointSeq(ctx, 3)
	ctx = WithBatchID(ctx, "batch")

	if got := GetIndexID(ctx); got != "idx" {
		t.Errorf("GetIndexID() = %q", got)
	}
	if got, ok := GetCheckpointSeq(ctx); !ok || got != 3 {
		t.Errorf("GetCheckpointSeq() = %d, %v", got, ok)
	}
	if got := GetBatchID(ctx); got != "batch" {
		t.Errorf("GetBatchID() = %q", got)
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	if FromContext(context.Background(), base) != base {
		t.Error("empty context should return the base logger")
	}

	ctx := WithIndexID(context.Background(), "idx")
	FromContext(ctx, base).Info("hello")
	if !strings.Contains(buf.String(), "index_id=idx") {
		t.Errorf("index_id missing: %q", buf.String())
	}
}
