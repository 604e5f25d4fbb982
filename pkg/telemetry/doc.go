// Package telemetry groups the observability packages of throttleguard.
//
//   - logging: slog setup with context fields and PII redaction
//   - metrics: Prometheus collector implementing the component recorders
//   - tracing: OpenTelemetry provider and W3C propagation
//   - health: liveness and readiness probes
package telemetry
