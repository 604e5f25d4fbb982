package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rpzk/throttleguard/pkg/anomaly"
	"github.com/rpzk/throttleguard/pkg/guard"
)

// ============================================================================
// Errors
// ============================================================================

func TestConfigError(t *testing.T) {
	cause := errors.New("missing required field")
	err := NewConfigError("server.listen_address", cause)

	want := "config error in server.listen_address: missing required field"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is() should reach the cause")
	}

	if got := (&ConfigError{Message: "no file"}).Error(); got != "config error: no file" {
		t.Errorf("Error() without field = %q", got)
	}
}

func TestCommandError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewCommandError("stats", cause)

	if err.Error() != "command stats failed: connection refused" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is() should reach the cause")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"config", NewConfigError("x", nil), ExitConfig},
		{"wrapped config", fmt.Errorf("run: %w", NewConfigError("x", nil)), ExitConfig},
		{"command", NewCommandError("run", errors.New("boom")), ExitFailure},
		{"plain", errors.New("boom"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

// ============================================================================
// Output
// ============================================================================

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": FormatText, "text": FormatText, "json": FormatJSON} {
		got, err := ParseOutputFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseOutputFormat("yaml"); err == nil {
		t.Error("expected error for yaml")
	}
}

func TestWriteStats(t *testing.T) {
	stats := guard.Stats{
		ActiveSubjects:  4,
		BlockedSubjects: 1,
		TotalRequests:   120,
		Detector:        anomaly.Stats{ProfileCount: 3, SuspiciousSourceCount: 2, EventHistorySize: 99},
	}

	var text bytes.Buffer
	if err := WriteStats(&text, stats, FormatText); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Blocked subjects", "120", "Suspicious sources", "99"} {
		if !strings.Contains(text.String(), want) {
			t.Errorf("text output missing %q:\n%s", want, text.String())
		}
	}

	var js bytes.Buffer
	if err := WriteStats(&js, stats, FormatJSON); err != nil {
		t.Fatal(err)
	}
	var decoded guard.Stats
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded != stats {
		t.Errorf("decoded = %+v, want %+v", decoded, stats)
	}
}

// ============================================================================
// AdminClient
// ============================================================================

func TestAdminClient(t *testing.T) {
	var gotAuth, gotSubject string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case StatsPath:
			_ = json.NewEncoder(w).Encode(guard.Stats{ActiveSubjects: 2, TotalRequests: 10})
		case ResetPath:
			var req guard.ResetRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			gotSubject = req.SubjectID
			_ = json.NewEncoder(w).Encode(map[string]any{"reset": true})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewAdminClient(strings.TrimPrefix(srv.URL, "http://"), "tg_admin")
	ctx := context.Background()

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.ActiveSubjects != 2 || stats.TotalRequests != 10 {
		t.Errorf("Stats() = %+v", stats)
	}
	if gotAuth != "Bearer tg_admin" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	if err := c.Reset(ctx, "user:42"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if gotSubject != "user:42" {
		t.Errorf("reset subject = %q", gotSubject)
	}
}

func TestAdminClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"Insufficient permissions"}`))
	}))
	defer srv.Close()

	_, err := NewAdminClient(srv.URL, "").Stats(context.Background())

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.Status != http.StatusForbidden || se.Message != "Insufficient permissions" {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestSignalContext(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := SignalContext(parent)
	defer stop()

	select {
	case <-ctx.Done():
		t.Fatal("context cancelled before any signal")
	default:
	}

	cancel()
	<-ctx.Done()
}
