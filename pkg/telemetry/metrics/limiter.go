package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rpzk/throttleguard/pkg/config"
)

// LimiterMetrics tracks limiter decisions.
//
// Metrics:
//   - throttleguard_limiter_checks_total: checks by limiter, category, result
//   - throttleguard_limiter_check_duration_seconds: check latency by limiter
//   - throttleguard_limiter_blocks_total: subjects entering a block
//   - throttleguard_limiter_fail_open_total: checks answered without the store
type LimiterMetrics struct {
	checksTotal   *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	blocksTotal   *prometheus.CounterVec
	failOpenTotal *prometheus.CounterVec
}

// NewLimiterMetrics creates and registers the limiter metrics.
func NewLimiterMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *LimiterMetrics {
	lm := &LimiterMetrics{
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "limiter",
				Name:      "checks_total",
				Help:      "Rate limit checks by limiter, category and result",
			},
			[]string{"limiter", "category", "result"},
		),
		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "limiter",
				Name:      "check_duration_seconds",
				Help:      "Duration of rate limit checks in seconds",
				Buckets:   cfg.CheckDurationBuckets,
			},
			[]string{"limiter"},
		),
		blocksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "limiter",
				Name:      "blocks_total",
				Help:      "Subjects that exceeded their limit and entered a block",
			},
			[]string{"limiter", "category"},
		),
		failOpenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "limiter",
				Name:      "fail_open_total",
				Help:      "Checks allowed because the coordination store was unavailable",
			},
			[]string{"limiter"},
		),
	}

	registry.MustRegister(lm.checksTotal, lm.checkDuration, lm.blocksTotal, lm.failOpenTotal)
	return lm
}

// RecordCheck records one check.
func (lm *LimiterMetrics) RecordCheck(limiter, category string, allowed bool, duration time.Duration) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	lm.checksTotal.WithLabelValues(limiter, category, result).Inc()
	lm.checkDuration.WithLabelValues(limiter).Observe(duration.Seconds())
}

// RecordBlock records a subject entering a block.
func (lm *LimiterMetrics) RecordBlock(limiter, category string) {
	lm.blocksTotal.WithLabelValues(limiter, category).Inc()
}

// RecordFailOpen records a fail-open check.
func (lm *LimiterMetrics) RecordFailOpen(limiter string) {
	lm.failOpenTotal.WithLabelValues(limiter).Inc()
}
