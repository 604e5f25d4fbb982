package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rpzk/throttleguard/pkg/audit/recorder"
	"github.com/rpzk/throttleguard/pkg/config"
)

// AuditMetrics tracks the audit recorder.
//
// Metrics:
//   - throttleguard_audit_entries_total: entries by action and outcome
//   - throttleguard_audit_breaker_state: 0 closed, 1 open, 2 half open
//   - throttleguard_audit_fallback_size: entries held in the fallback ring
type AuditMetrics struct {
	entriesTotal *prometheus.CounterVec
	breakerState prometheus.Gauge
	fallbackSize prometheus.Gauge
}

// NewAuditMetrics creates and registers the audit metrics.
func NewAuditMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *AuditMetrics {
	am := &AuditMetrics{
		entriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "audit",
				Name:      "entries_total",
				Help:      "Audit entries by action and outcome (stored, fallback)",
			},
			[]string{"action", "outcome"},
		),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "audit",
			Name:      "breaker_state",
			Help:      "Audit storage circuit breaker state (0=closed, 1=open, 2=half_open)",
		}),
		fallbackSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "audit",
			Name:      "fallback_size",
			Help:      "Audit entries held in the in-memory fallback ring",
		}),
	}

	registry.MustRegister(am.entriesTotal, am.breakerState, am.fallbackSize)
	return am
}

// RecordEntry counts one recorded entry.
func (am *AuditMetrics) RecordEntry(action, outcome string) {
	am.entriesTotal.WithLabelValues(action, outcome).Inc()
}

// SetBreakerState sets the breaker gauge.
func (am *AuditMetrics) SetBreakerState(s recorder.BreakerState) {
	am.breakerState.Set(float64(s))
}

// SetFallbackSize sets the fallback gauge.
func (am *AuditMetrics) SetFallbackSize(n int) {
	am.fallbackSize.Set(float64(n))
}
