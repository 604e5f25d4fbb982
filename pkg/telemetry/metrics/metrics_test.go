package metrics

import (
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rpzk/throttleguard/pkg/anomaly"
	"github.com/rpzk/throttleguard/pkg/audit"
	"github.com/rpzk/throttleguard/pkg/audit/recorder"
	"github.com/rpzk/throttleguard/pkg/config"
	"github.com/rpzk/throttleguard/pkg/guard"
	"github.com/rpzk/throttleguard/pkg/limits"
)

func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{Enabled: true, Namespace: "test"}
}

// Compile-time checks that the collector serves every component.
var (
	_ limits.Recorder   = (*Collector)(nil)
	_ anomaly.Recorder  = (*Collector)(nil)
	_ recorder.Metrics  = (*Collector)(nil)
	_ guard.PoolMetrics = (*Collector)(nil)
)

// ============================================================================
// Limiter
// ============================================================================

func TestCollector_Limiter(t *testing.T) {
	c := NewCollector(testConfig(), nil)

	c.RecordCheck("local", limits.CategoryPatients, true, time.Millisecond)
	c.RecordCheck("local", limits.CategoryPatients, true, time.Millisecond)
	c.RecordCheck("local", limits.CategoryPatients, false, time.Millisecond)
	c.RecordBlock("local", limits.CategoryPatients)
	c.RecordFailOpen("coordinated")

	lm := c.limiterMetrics
	if got := testutil.ToFloat64(lm.checksTotal.WithLabelValues("local", "patients", "allowed")); got != 2 {
		t.Errorf("allowed checks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(lm.checksTotal.WithLabelValues("local", "patients", "rejected")); got != 1 {
		t.Errorf("rejected checks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(lm.blocksTotal.WithLabelValues("local", "patients")); got != 1 {
		t.Errorf("blocks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(lm.failOpenTotal.WithLabelValues("coordinated")); got != 1 {
		t.Errorf("fail opens = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(lm.checkDuration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

// ============================================================================
// Anomaly
// ============================================================================

func TestCollector_Anomaly(t *testing.T) {
	c := NewCollector(testConfig(), nil)

	c.RecordFinding(anomaly.TypeRateSpike, anomaly.SeverityCritical)
	c.RecordFinding(anomaly.TypeRateSpike, anomaly.SeverityCritical)
	c.RecordState(anomaly.Stats{ProfileCount: 3, SuspiciousSourceCount: 1, EventHistorySize: 42})

	am := c.anomalyMetrics
	if got := testutil.ToFloat64(am.findingsTotal.WithLabelValues("RATE_SPIKE", "CRITICAL")); got != 2 {
		t.Errorf("findings = %v, want 2", got)
	}
	if testutil.ToFloat64(am.profiles) != 3 || testutil.ToFloat64(am.suspiciousSources) != 1 || testutil.ToFloat64(am.historySize) != 42 {
		t.Error("state gauges not updated")
	}
}

// ============================================================================
// Audit
// ============================================================================

func TestCollector_Audit(t *testing.T) {
	c := NewCollector(testConfig(), nil)

	c.RecordAuditEntry(audit.ActionRateLimitExceeded, recorder.OutcomeStored)
	c.RecordAuditEntry(audit.ActionRateLimitExceeded, recorder.OutcomeFallback)
	c.SetAuditBreakerState(recorder.BreakerHalfOpen)
	c.SetAuditFallbackSize(5)

	am := c.auditMetrics
	if got := testutil.ToFloat64(am.entriesTotal.WithLabelValues("rate_limit_exceeded", recorder.OutcomeFallback)); got != 1 {
		t.Errorf("fallback entries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(am.breakerState); got != 2 {
		t.Errorf("breaker state = %v, want 2", got)
	}
	if got := testutil.ToFloat64(am.fallbackSize); got != 5 {
		t.Errorf("fallback size = %v, want 5", got)
	}
}

// ============================================================================
// HTTP and pool
// ============================================================================

func TestCollector_HTTPCardinality(t *testing.T) {
	c := NewCollector(testConfig(), nil)
	c.cardinalityLimiter = NewCardinalityLimiter(2)

	c.RecordHTTPRequest("GET", "/api/patients", 200, time.Millisecond)
	c.RecordHTTPRequest("GET", "/api/dashboard", 200, time.Millisecond)
	c.RecordHTTPRequest("GET", "/api/unknown-1", 404, time.Millisecond)
	c.RecordHTTPRequest("GET", "/api/unknown-2", 404, time.Millisecond)
	c.RecordPoolDrop("analyze")

	hm := c.httpMetrics
	if got := testutil.ToFloat64(hm.requestsTotal.WithLabelValues("GET", "other", "404")); got != 2 {
		t.Errorf("folded requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(hm.poolDropped.WithLabelValues("analyze")); got != 1 {
		t.Errorf("pool drops = %v, want 1", got)
	}
	if c.cardinalityLimiter.Count() != 2 {
		t.Errorf("cardinality = %d, want 2", c.cardinalityLimiter.Count())
	}
}

func TestCollector_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	c := NewCollector(cfg, nil)

	c.RecordCheck("local", limits.CategoryDefault, true, time.Millisecond)
	c.RecordFinding(anomaly.TypeRateSpike, anomaly.SeverityLow)
	c.SetAuditBreakerState(recorder.BreakerOpen)
	c.RecordHTTPRequest("GET", "/", 200, time.Millisecond)

	if got := testutil.CollectAndCount(c.limiterMetrics.checksTotal); got != 0 {
		t.Errorf("checks series = %d, want 0", got)
	}
	if got := testutil.ToFloat64(c.auditMetrics.breakerState); got != 0 {
		t.Errorf("breaker state = %v, want 0", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(testConfig(), nil)
	c.RecordBlock("local", limits.CategoryAIMedical)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	want := fmt.Sprintf(`test_limiter_blocks_total{category="%s",limiter="local"} 1`, limits.CategoryAIMedical)
	if !strings.Contains(string(body), want) {
		t.Errorf("scrape missing %q:\n%s", want, body)
	}
}

func TestCardinalityLimiter(t *testing.T) {
	cl := NewCardinalityLimiter(1)
	if !cl.Allow("a") || !cl.Allow("a") {
		t.Error("known label set rejected")
	}
	if cl.Allow("b") {
		t.Error("label set beyond the cap admitted")
	}
}
