package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rpzk/throttleguard/pkg/audit/recorder"
	"github.com/rpzk/throttleguard/pkg/audit/storage"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

// ============================================================================
// Checker
// ============================================================================

func TestChecker_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		wantStatus string
		wantFailed []string
	}{
		{
			name:       "no checks",
			wantStatus: StatusReady,
		},
		{
			name: "all healthy",
			checks: map[string]CheckFunc{
				"a": func(context.Context) error { return nil },
				"b": func(context.Context) error { return nil },
			},
			wantStatus: StatusReady,
		},
		{
			name: "one failing",
			checks: map[string]CheckFunc{
				"a": func(context.Context) error { return nil },
				"b": func(context.Context) error { return errors.New("down") },
			},
			wantStatus: StatusDegraded,
			wantFailed: []string{"b"},
		},
		{
			name: "timeout",
			checks: map[string]CheckFunc{
				"slow": func(ctx context.Context) error {
					<-ctx.Done()
					time.Sleep(10 * time.Millisecond)
					return nil
				},
			},
			wantStatus: StatusDegraded,
			wantFailed: []string{"slow"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(20 * time.Millisecond)
			for name, check := range tt.checks {
				c.RegisterCheck(name, check)
			}

			status := c.CheckReadiness(context.Background())
			if status.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", status.Status, tt.wantStatus)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Errorf("got %d results, want %d", len(status.Checks), len(tt.checks))
			}
			for _, name := range tt.wantFailed {
				if r := status.Checks[name]; r.Status != StatusUnhealthy || r.Message == "" {
					t.Errorf("check %s = %+v, want unhealthy with a message", name, r)
				}
			}
		})
	}
}

func TestChecker_Registration(t *testing.T) {
	c := New(0)
	c.RegisterCheck("b", func(context.Context) error { return nil })
	c.RegisterCheck("a", func(context.Context) error { return nil })
	if got := c.ListChecks(); len(got) != 2 || got[0] != "a" {
		t.Errorf("ListChecks() = %v", got)
	}
	c.UnregisterCheck("a")
	if got := c.ListChecks(); len(got) != 1 || got[0] != "b" {
		t.Errorf("after unregister ListChecks() = %v", got)
	}
}

// ============================================================================
// Component checks
// ============================================================================

func TestComponentChecks(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()

	tests := []struct {
		name    string
		check   CheckFunc
		wantErr bool
	}{
		{"ping ok", PingCheck(fakePinger{}), false},
		{"ping failing", PingCheck(fakePinger{err: errors.New("connection refused")}), true},
		{"audit storage", AuditStorageCheck(store), false},
		{"breaker closed", AuditBreakerCheck(func() recorder.BreakerState { return recorder.BreakerClosed }), false},
		{"breaker half open", AuditBreakerCheck(func() recorder.BreakerState { return recorder.BreakerHalfOpen }), false},
		{"breaker open", AuditBreakerCheck(func() recorder.BreakerState { return recorder.BreakerOpen }), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.check(ctx); (err != nil) != tt.wantErr {
				t.Errorf("check error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
}

// ============================================================================
// Endpoints
// ============================================================================

func TestEndpoints(t *testing.T) {
	c := New(time.Second)
	failing := false
	c.RegisterCheck("audit_breaker", func(context.Context) error {
		if failing {
			return errors.New("open")
		}
		return nil
	})

	mux := http.NewServeMux()
	Register(mux, c, "1.2.3", "abc123", "2026-01-01")

	tests := []struct {
		name       string
		method     string
		path       string
		failing    bool
		wantStatus int
		wantBody   string
	}{
		{"liveness", http.MethodGet, "/health", false, http.StatusOK, StatusOK},
		{"ready", http.MethodGet, "/ready", false, http.StatusOK, StatusReady},
		{"degraded", http.MethodGet, "/ready", true, http.StatusServiceUnavailable, StatusDegraded},
		{"liveness while degraded", http.MethodGet, "/health", true, http.StatusOK, StatusOK},
		{"post rejected", http.MethodPost, "/health", false, http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failing = tt.failing
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody == "" {
				return
			}
			var body HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantBody {
				t.Errorf("body status = %s, want %s", body.Status, tt.wantBody)
			}
		})
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil || info.Version != "1.2.3" || info.GoVersion == "" {
		t.Errorf("version = %+v, %v", info, err)
	}
}

func TestRateLimitedHandler(t *testing.T) {
	h := RateLimitedHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), 2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
}
