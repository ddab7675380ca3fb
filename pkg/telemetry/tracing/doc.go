// Package tracing provides OpenTelemetry tracing for indexretain.
//
// New installs a global trace provider that exports spans over OTLP gRPC.
// Index components start spans with Start and finish them with End; when
// tracing is disabled those spans are no-ops.
//
// # Spans
//
//   - checkpoint.run: one checkpoint of an index
//   - compactor.batch: one prune batch, with its job count and outcome
//   - browse.resolve, browse.restore: one browse or restore request
//
// # Sampling
//
// Three sampling strategies are supported, each wrapped in ParentBased:
//   - always: Sample all traces
//   - never: Sample no traces
//   - ratio: Sample a fraction of traces by trace ID
//
// # Usage
//
//	tracer, err := tracing.New(ctx, &cfg.Telemetry.Tracing, Version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
package tracing
