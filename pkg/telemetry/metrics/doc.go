// Package metrics exposes throttleguard measurements to Prometheus.
//
// # Overview
//
// Collector owns a dedicated *prometheus.Registry and groups its series by
// subsystem:
//
//   - limiter: checks, check latency, blocks and fail-opens
//   - anomaly: findings by type and severity, and detector state gauges
//   - audit: entries by outcome, breaker state and fallback size
//   - http and guard: served requests and dropped background tasks
//
// Components never import this package. Each declares the narrow recorder
// interface it needs and the composition root passes the Collector:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	limiter := ratelimit.NewLimiter(ratelimit.Config{Recorder: collector})
//	detector := anomaly.NewDetector(anomaly.Config{Recorder: collector})
//	mux.Handle("/metrics", collector.Handler())
//
// # Cardinality
//
// Subject keys never become labels. HTTP routes are capped by a
// CardinalityLimiter and fold into "other" beyond the cap.
package metrics
