package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rpzk/throttleguard/pkg/anomaly"
	"github.com/rpzk/throttleguard/pkg/config"
)

// AnomalyMetrics tracks detector findings and state size.
type AnomalyMetrics struct {
	findingsTotal     *prometheus.CounterVec
	profiles          prometheus.Gauge
	suspiciousSources prometheus.Gauge
	historySize       prometheus.Gauge
}

// NewAnomalyMetrics creates and registers the detector metrics.
func NewAnomalyMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *AnomalyMetrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "anomaly",
			Name:      name,
			Help:      help,
		})
	}

	am := &AnomalyMetrics{
		findingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "anomaly",
				Name:      "findings_total",
				Help:      "Anomaly findings by type and severity",
			},
			[]string{"type", "severity"},
		),
		profiles:          gauge("profiles", "Number of learned behavior profiles"),
		suspiciousSources: gauge("suspicious_sources", "Number of flagged source addresses"),
		historySize:       gauge("event_history_size", "Number of events in the detector history"),
	}

	registry.MustRegister(am.findingsTotal, am.profiles, am.suspiciousSources, am.historySize)
	return am
}

// RecordFinding counts one finding.
func (am *AnomalyMetrics) RecordFinding(findingType, severity string) {
	am.findingsTotal.WithLabelValues(findingType, severity).Inc()
}

// UpdateState sets the state gauges.
func (am *AnomalyMetrics) UpdateState(stats anomaly.Stats) {
	am.profiles.Set(float64(stats.ProfileCount))
	am.suspiciousSources.Set(float64(stats.SuspiciousSourceCount))
	am.historySize.Set(float64(stats.EventHistorySize))
}
