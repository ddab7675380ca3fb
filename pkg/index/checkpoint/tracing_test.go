package checkpoint

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mercator-hq/indexretain/pkg/index"
	"mercator-hq/indexretain/pkg/telemetry/tracing"
)

func TestRunCheckpoint_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	f := newFixture(t, index.RetentionRule{Type: index.RuleCycles, Value: 1}, Options{})
	for i := int64(1); i <= 4; i++ {
		f.add(t, i, index.BackupFull, time.Duration(i)*time.Hour)
	}
	f.run(t) // warm-up
	f.run(t)

	var runs, batches []sdktrace.ReadOnlySpan
	for _, s := range sr.Ended() {
		switch s.Name() {
		case "checkpoint.run":
			runs = append(runs, s)
		case "compactor.batch":
			batches = append(batches, s)
		}
	}
	if len(runs) != 2 {
		t.Fatalf("checkpoint.run spans = %d, want 2", len(runs))
	}
	if len(batches) != 1 {
		t.Fatalf("compactor.batch spans = %d, want 1", len(batches))
	}

	batch, run := batches[0], runs[1]
	if batch.Parent().SpanID() != run.SpanContext().SpanID() {
		t.Error("compactor.batch is not a child of checkpoint.run")
	}

	want := map[string]bool{
		string(tracing.AttrIndexID):       false,
		string(tracing.AttrCheckpointSeq): false,
	}
	for _, kv := range run.Attributes() {
		if _, ok := want[string(kv.Key)]; ok {
			want[string(kv.Key)] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("checkpoint.run missing attribute %s", k)
		}
	}
}
