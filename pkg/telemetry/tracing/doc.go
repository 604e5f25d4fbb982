// Package tracing configures OpenTelemetry for throttleguard.
//
// New builds a Tracer from config. When tracing is enabled spans are
// batched to an OTLP collector over gRPC; when disabled the Tracer wraps a
// noop provider, so callers never branch on configuration:
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(ctx)
//
//	g, _ := guard.New(guard.Config{Tracer: tracer, ...})
//
// The guard opens one span per request named "guard.request". HTTPMiddleware
// extracts an incoming W3C traceparent first, so that span joins the
// caller's trace.
//
// # Sampling
//
// Sampler is one of "always", "never" or "ratio" (with SampleRatio). Every
// sampler is wrapped in ParentBased, so a sampled caller keeps its trace
// sampled here.
package tracing
