package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rpzk/throttleguard/pkg/anomaly"
	"github.com/rpzk/throttleguard/pkg/config"
	"github.com/rpzk/throttleguard/pkg/guard"
	"github.com/rpzk/throttleguard/pkg/limits"
	"github.com/rpzk/throttleguard/pkg/limits/ratelimit"
	"github.com/rpzk/throttleguard/pkg/telemetry/health"
	"github.com/rpzk/throttleguard/pkg/telemetry/metrics"
)

func newTestServer(t *testing.T, listen string) (*Server, *metrics.Collector) {
	t.Helper()

	policies, err := limits.NewPolicyTable(limits.DefaultPolicies())
	if err != nil {
		t.Fatal(err)
	}
	limiter := ratelimit.NewLimiter(ratelimit.Config{})
	pool := guard.NewPool(guard.PoolConfig{Workers: 1})
	t.Cleanup(func() {
		pool.Close()
		limiter.Close()
	})

	g, err := guard.New(guard.Config{
		Policies: policies,
		Limiter:  limiter,
		Detector: anomaly.NewDetector(anomaly.Config{}),
		Pool:     pool,
	})
	if err != nil {
		t.Fatal(err)
	}

	collector := metrics.NewCollector(&config.MetricsConfig{Enabled: true, Namespace: "throttleguard"}, nil)

	cfg := &config.ServerConfig{
		ListenAddress:   listen,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		IdleTimeout:     5 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
	srv, err := New(cfg, Deps{
		Guard:     g,
		Health:    health.New(time.Second),
		Metrics:   collector,
		Version:   "1.2.3",
		Commit:    "abc123",
		BuildTime: "today",
	})
	if err != nil {
		t.Fatal(err)
	}
	return srv, collector
}

// ============================================================================
// Routes
// ============================================================================

func TestRoutes_Categories(t *testing.T) {
	srv, _ := newTestServer(t, "127.0.0.1:0")
	h := srv.Handler()

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantLimit  string
	}{
		{"patients", http.MethodGet, "/api/patients", http.StatusOK, "200"},
		{"patient by id", http.MethodGet, "/api/patients/42", http.StatusOK, "200"},
		{"consultations", http.MethodGet, "/api/consultations", http.StatusOK, "100"},
		{"dashboard", http.MethodGet, "/api/dashboard", http.StatusOK, "500"},
		{"default", http.MethodGet, "/api/reports", http.StatusOK, "100"},
		{"ai analysis", http.MethodPost, "/api/ai/analyze", http.StatusOK, "30"},
		{"ai analysis wrong method", http.MethodGet, "/api/ai/analyze", http.StatusMethodNotAllowed, "30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("X-RateLimit-Limit"); got != tt.wantLimit {
				t.Errorf("X-RateLimit-Limit = %q, want %q", got, tt.wantLimit)
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("X-Request-ID missing")
			}
		})
	}
}

func TestRoutes_HandlerFailureIsGeneric(t *testing.T) {
	srv, _ := newTestServer(t, "127.0.0.1:0")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ai/analyze?simulate=failure", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), errAnalysisUnavailable.Error()) {
		t.Errorf("internal error leaked: %s", rec.Body.String())
	}
}

func TestRoutes_ProbesAndAdmin(t *testing.T) {
	srv, _ := newTestServer(t, "127.0.0.1:0")
	h := srv.Handler()

	for _, path := range []string{"/health", "/ready", "/version", "/metrics", "/admin/ratelimit/stats"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("GET %s = %d, want 200", path, rec.Code)
			}
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	var info health.VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.Version != "1.2.3" || info.Commit != "abc123" {
		t.Errorf("version info = %+v", info)
	}
}

func TestRoutes_StatsCountGuardedRequests(t *testing.T) {
	srv, _ := newTestServer(t, "127.0.0.1:0")
	h := srv.Handler()

	for i := 0; i < 3; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/ratelimit/stats", nil))

	var stats guard.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalRequests != 3 {
		t.Errorf("totalRequests = %d, want 3", stats.TotalRequests)
	}
	if stats.ActiveSubjects != 1 {
		t.Errorf("activeSubjects = %d, want 1", stats.ActiveSubjects)
	}
}

func TestRoutes_HTTPMetrics(t *testing.T) {
	srv, collector := newTestServer(t, "127.0.0.1:0")
	h := srv.Handler()

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/patients/7", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/patients/8", nil))

	expected := `
# HELP throttleguard_http_requests_total HTTP requests by method, route and status code
# TYPE throttleguard_http_requests_total counter
throttleguard_http_requests_total{method="GET",route="/api/patients/{id}",status="200"} 2
`
	if err := testutil.GatherAndCompare(collector.Registry(), strings.NewReader(expected), "throttleguard_http_requests_total"); err != nil {
		t.Error(err)
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestServer_StartAndShutdown(t *testing.T) {
	srv, _ := newTestServer(t, "127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for srv.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/health", srv.Addr()))
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health = %d", resp.StatusCode)
	}

	if err := srv.Start(ctx); err == nil {
		t.Error("second Start() succeeded")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() = %v, want nil after shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
	if srv.IsRunning() {
		t.Error("IsRunning() after shutdown")
	}
}

func TestServer_ListenError(t *testing.T) {
	srv, _ := newTestServer(t, "256.0.0.1:bad")
	if err := srv.Start(context.Background()); err == nil {
		t.Error("Start() on an invalid address succeeded")
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	cfg := &config.ServerConfig{ListenAddress: "127.0.0.1:0"}

	if _, err := New(nil, Deps{}); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(cfg, Deps{}); err == nil {
		t.Error("expected error for missing guard")
	}
}
