package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rpzk/throttleguard/pkg/anomaly"
	"github.com/rpzk/throttleguard/pkg/audit"
	"github.com/rpzk/throttleguard/pkg/audit/recorder"
	"github.com/rpzk/throttleguard/pkg/config"
	"github.com/rpzk/throttleguard/pkg/limits"
)

// Collector owns the Prometheus registry and every throttleguard metric.
//
// It implements limits.Recorder, anomaly.Recorder, recorder.Metrics and
// guard.PoolMetrics, so each component receives the same collector through
// its own narrow interface. With Enabled false every method is a no-op and
// the registry stays empty of throttleguard series.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	limiterMetrics *LimiterMetrics
	anomalyMetrics *AnomalyMetrics
	auditMetrics   *AuditMetrics
	httpMetrics    *HTTPMetrics

	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector. A nil registry gets a fresh one.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "throttleguard"
	}
	if len(cfg.CheckDurationBuckets) == 0 {
		// Local checks take microseconds, coordinated ones a network round trip.
		cfg.CheckDurationBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5}
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		cfg.RequestDurationBuckets = prometheus.DefBuckets
	}

	c := &Collector{
		config:             cfg,
		registry:           registry,
		cardinalityLimiter: NewCardinalityLimiter(1000),
	}

	c.limiterMetrics = NewLimiterMetrics(cfg, registry)
	c.anomalyMetrics = NewAnomalyMetrics(cfg, registry)
	c.auditMetrics = NewAuditMetrics(cfg, registry)
	c.httpMetrics = NewHTTPMetrics(cfg, registry)

	return c
}

// RecordCheck implements limits.Recorder.
func (c *Collector) RecordCheck(limiter string, category limits.Category, allowed bool, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.limiterMetrics.RecordCheck(limiter, string(category), allowed, duration)
}

// RecordBlock implements limits.Recorder.
func (c *Collector) RecordBlock(limiter string, category limits.Category) {
	if !c.config.Enabled {
		return
	}
	c.limiterMetrics.RecordBlock(limiter, string(category))
}

// RecordFailOpen implements limits.Recorder.
func (c *Collector) RecordFailOpen(limiter string) {
	if !c.config.Enabled {
		return
	}
	c.limiterMetrics.RecordFailOpen(limiter)
}

// RecordFinding implements anomaly.Recorder.
func (c *Collector) RecordFinding(t anomaly.Type, s anomaly.Severity) {
	if !c.config.Enabled {
		return
	}
	c.anomalyMetrics.RecordFinding(string(t), s.String())
}

// RecordState implements anomaly.Recorder.
func (c *Collector) RecordState(stats anomaly.Stats) {
	if !c.config.Enabled {
		return
	}
	c.anomalyMetrics.UpdateState(stats)
}

// SetAuditBreakerState implements recorder.Metrics.
func (c *Collector) SetAuditBreakerState(s recorder.BreakerState) {
	if !c.config.Enabled {
		return
	}
	c.auditMetrics.SetBreakerState(s)
}

// SetAuditFallbackSize implements recorder.Metrics.
func (c *Collector) SetAuditFallbackSize(n int) {
	if !c.config.Enabled {
		return
	}
	c.auditMetrics.SetFallbackSize(n)
}

// RecordAuditEntry implements recorder.Metrics.
func (c *Collector) RecordAuditEntry(action audit.Action, outcome string) {
	if !c.config.Enabled {
		return
	}
	c.auditMetrics.RecordEntry(string(action), outcome)
}

// RecordPoolDrop implements guard.PoolMetrics.
func (c *Collector) RecordPoolDrop(task string) {
	if !c.config.Enabled {
		return
	}
	c.httpMetrics.RecordPoolDrop(task)
}

// RecordHTTPRequest records a served HTTP request. Routes beyond the
// cardinality limit are folded into "other".
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	if !c.cardinalityLimiter.Allow(fmt.Sprintf("%s:%s", method, route)) {
		route = "other"
	}
	c.httpMetrics.RecordRequest(method, route, status, duration)
}

// Registry returns the registry backing Handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter caps the number of distinct label sets.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting at most maxCardinality
// label sets.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether labelSet is known or still fits under the cap.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	_, exists := cl.current[labelSet]
	cl.mu.RUnlock()
	if exists {
		return true
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the number of admitted label sets.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
