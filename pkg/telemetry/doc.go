// Package telemetry groups the observability packages of indexretain.
//
//   - logging: slog setup and context-carried index, checkpoint and batch ids
//   - metrics: Prometheus collectors for appends, checkpoints, pruning,
//     aging events and browse requests
//   - tracing: OpenTelemetry spans exported over OTLP/gRPC
//   - health: liveness and readiness probes
//
// Each subpackage is configured from config.TelemetryConfig and is safe to
// use with telemetry disabled.
package telemetry
