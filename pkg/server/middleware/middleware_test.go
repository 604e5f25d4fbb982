package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rpzk/throttleguard/pkg/telemetry/logging"
)

type recordedRequest struct {
	method string
	route  string
	status int
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []recordedRequest
}

func (f *fakeRecorder) RecordHTTPRequest(method, route string, status int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, recordedRequest{method, route, status})
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

// ============================================================================
// RequestID
// ============================================================================

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetRequestID(r.Context())
	}))

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated when absent", "", false},
		{"propagated", "req-123", true},
		{"replaced when too long", strings.Repeat("a", maxRequestIDLength+1), false},
		{"replaced when it has spaces", "two words", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get(RequestIDHeader)
			if got == "" || got != seen {
				t.Fatalf("header %q, context %q", got, seen)
			}
			if (got == tt.incoming) != tt.keep {
				t.Errorf("request ID = %q, incoming %q, keep %v", got, tt.incoming, tt.keep)
			}
		})
	}
}

func TestRequestID_Unique(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	ids := make(map[string]bool)
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		ids[rec.Header().Get(RequestIDHeader)] = true
	}
	if len(ids) != 50 {
		t.Errorf("got %d unique IDs, want 50", len(ids))
	}
}

// ============================================================================
// Logging
// ============================================================================

func TestLogging_RecordsRouteAndStatus(t *testing.T) {
	buf := captureLogs(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/patients/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	rec := &fakeRecorder{}
	h := Logging(rec)(Route(mux))

	for _, path := range []string{"/api/patients/42", "/ok", "/nowhere"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	want := []recordedRequest{
		{http.MethodGet, "GET /api/patients/{id}", http.StatusNotFound},
		{http.MethodGet, "/ok", http.StatusOK},
		{http.MethodGet, "unmatched", http.StatusNotFound},
	}
	if len(rec.seen) != len(want) {
		t.Fatalf("recorded %d requests, want %d", len(rec.seen), len(want))
	}
	for i := range want {
		if rec.seen[i] != want[i] {
			t.Errorf("request %d = %+v, want %+v", i, rec.seen[i], want[i])
		}
	}

	if !strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Errorf("404 not logged at warn: %s", buf.String())
	}
}

func TestLogging_NilRecorder(t *testing.T) {
	captureLogs(t)
	h := Logging(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}

// ============================================================================
// Recovery
// ============================================================================

func TestRecovery(t *testing.T) {
	buf := captureLogs(t)

	h := RequestID(Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("database password is hunter2")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/ratelimit/stats", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != "Internal server error" {
		t.Errorf("body = %v", body)
	}
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Error("panic value leaked to the client")
	}
	if !strings.Contains(buf.String(), "panic in handler") {
		t.Error("panic not logged")
	}
}

func TestRecovery_PassThrough(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
}
