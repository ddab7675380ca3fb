package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mercator-hq/indexretain/pkg/config"
)

// record installs a recording provider for the duration of the test.
func record(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	prev := otel.GetTracerProvider()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestNew(t *testing.T) {
	if _, err := New(context.Background(), nil, "test"); err == nil {
		t.Error("New(nil) expected error")
	}

	tracer, err := New(context.Background(), &config.TracingConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if tracer.Enabled() {
		t.Error("Enabled() = true for disabled config")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	_, err = New(context.Background(), &config.TracingConfig{
		Enabled:  true,
		Sampler:  "sometimes",
		Endpoint: "localhost:4317",
	}, "test")
	if err == nil {
		t.Error("New() expected error for unknown sampler")
	}
}

func TestStartEnd(t *testing.T) {
	sr := record(t)

	ctx, span := Start(context.Background(), "checkpoint.run", IndexID("idx"), CheckpointSeq(3))
	if TraceID(ctx) == "" {
		t.Error("TraceID() is empty inside a recorded span")
	}
	End(span, nil)

	_, failed := Start(ctx, "compactor.batch", BatchID("b-1"), JobCount(4))
	failed.SetAttributes(PruneOutcome(3, 1)...)
	End(failed, errors.New("archive unavailable"))

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}

	run, batch := spans[0], spans[1]
	if run.Name() != "checkpoint.run" || run.Status().Code != codes.Ok {
		t.Errorf("run span = %q status %v, want checkpoint.run Ok", run.Name(), run.Status().Code)
	}
	if !hasAttr(run.Attributes(), attribute.String(AttrIndexID, "idx")) {
		t.Errorf("run span attributes = %v, missing index id", run.Attributes())
	}

	if batch.Parent().SpanID() != run.SpanContext().SpanID() {
		t.Error("batch span is not a child of the run span")
	}
	if batch.Status().Code != codes.Error || batch.Status().Description != "archive unavailable" {
		t.Errorf("batch status = %+v, want error", batch.Status())
	}
	if len(batch.Events()) != 1 || batch.Events()[0].Name != "exception" {
		t.Errorf("batch events = %v, want one recorded error", batch.Events())
	}
	if !hasAttr(batch.Attributes(), attribute.Int(AttrFailed, 1)) {
		t.Errorf("batch span attributes = %v, missing failed count", batch.Attributes())
	}
}

func TestTraceID_NoSpan(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID() = %q, want empty", got)
	}
}

func hasAttr(attrs []attribute.KeyValue, want attribute.KeyValue) bool {
	for _, a := range attrs {
		if a == want {
			return true
		}
	}
	return false
}
