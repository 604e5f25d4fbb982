package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rpzk/throttleguard/pkg/audit"
	auditstorage "github.com/rpzk/throttleguard/pkg/audit/storage"
	"github.com/rpzk/throttleguard/pkg/cli"
	"github.com/rpzk/throttleguard/pkg/config"
	"github.com/rpzk/throttleguard/pkg/guard"
	"github.com/rpzk/throttleguard/pkg/limits"
	"github.com/rpzk/throttleguard/pkg/limits/ratelimit"
	"github.com/rpzk/throttleguard/pkg/security/auth"
)

// execute runs the root command with args and returns its stdout. Flag
// variables are reset first since cobra keeps them across executions.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cfgFile, verbose = "config.yaml", false
	runFlags.listenAddress, runFlags.logLevel, runFlags.dryRun = "", "", false
	adminFlags.addr, adminFlags.apiKey, adminFlags.format = "localhost:8080", "", "text"
	auditFlags.db, auditFlags.actor, auditFlags.action = "data/audit.db", "", ""
	auditFlags.since, auditFlags.until, auditFlags.failed = "", "", false
	auditFlags.limit, auditFlags.format = 1000, "json"
	auditFlags.days, auditFlags.archive = 90, ""
	keysFlags.subject, keysFlags.email, keysFlags.role = "", "", ""
	certsFlags.hosts, certsFlags.validity, certsFlags.output = "localhost", 365, "certs"
	certsFlags.cert, certsFlags.key = "certs/server.crt", "certs/server.key"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
server:
  listen_address: "127.0.0.1:0"
limits:
  force_local: true
  policies:
    patients:
      limit: 250
audit:
  backend: memory
`

// ============================================================================
// version / validate / run --dry-run
// ============================================================================

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "throttleguard "+Version) {
		t.Errorf("output missing version:\n%s", out)
	}
	if !strings.Contains(out, "Go Version:") {
		t.Errorf("output missing Go version:\n%s", out)
	}
}

func TestValidateCommand(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	out, err := execute(t, "validate", "--config", path)
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Errorf("output = %q", out)
	}
	for _, c := range limits.Categories() {
		if !strings.Contains(out, string(c)) {
			t.Errorf("output missing category %s", c)
		}
	}
	if !strings.Contains(out, "250") {
		t.Errorf("output missing overridden patients limit:\n%s", out)
	}
}

func TestValidateCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args func(t *testing.T) []string
	}{
		{
			name: "missing explicit file",
			args: func(t *testing.T) []string {
				return []string{"validate", "--config", filepath.Join(t.TempDir(), "absent.yaml")}
			},
		},
		{
			name: "unknown category",
			args: func(t *testing.T) []string {
				return []string{"validate", "--config", writeConfig(t, "limits:\n  policies:\n    billing:\n      limit: 5\n")}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args(t)...)
			if err == nil {
				t.Fatal("expected error")
			}
			if code := cli.ExitCode(err); code != cli.ExitConfig {
				t.Errorf("ExitCode() = %d, want %d (err %v)", code, cli.ExitConfig, err)
			}
		})
	}
}

func TestConfigPath_DefaultMayBeAbsent(t *testing.T) {
	t.Chdir(t.TempDir())

	c := &cobra.Command{}
	c.Flags().StringVar(&cfgFile, "config", "config.yaml", "")
	cfgFile = "config.yaml"

	path, err := configPath(c)
	if err != nil || path != "" {
		t.Errorf("configPath() = %q, %v; want defaults", path, err)
	}

	if err := c.Flags().Set("config", "config.yaml"); err != nil {
		t.Fatal(err)
	}
	if _, err := configPath(c); err == nil {
		t.Error("expected error for an explicitly named missing file")
	}
}

func TestRunDryRun(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	out, err := execute(t, "run", "--config", path, "--dry-run", "--log-level", "warn")
	if err != nil {
		t.Fatalf("run --dry-run error = %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Errorf("output = %q", out)
	}
}

func TestRunDryRun_BadLogLevel(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	_, err := execute(t, "run", "--config", path, "--dry-run", "--log-level", "loud")
	if cli.ExitCode(err) != cli.ExitConfig {
		t.Errorf("ExitCode(%v) = %d, want %d", err, cli.ExitCode(err), cli.ExitConfig)
	}
}

// ============================================================================
// app wiring
// ============================================================================

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Limits.ForceLocal = true
	cfg.Audit.Backend = "memory"
	cfg.Audit.Retention.Enabled = false
	return cfg
}

func TestNewApp_ServesGuardedRoutes(t *testing.T) {
	a, err := newApp(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.close(context.Background())

	if name := a.selection.Info().Name; name != ratelimit.Name {
		t.Errorf("limiter = %q, want %q", name, ratelimit.Name)
	}

	srv := httptest.NewServer(a.server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/patients")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /api/patients status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-RateLimit-Limit") != "200" {
		t.Errorf("X-RateLimit-Limit = %q, want 200", resp.Header.Get("X-RateLimit-Limit"))
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + config.DefaultMetricsPath)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET %s status = %d", config.DefaultMetricsPath, resp.StatusCode)
	}
}

func TestNewApp_StartupErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")

	tests := []struct {
		name   string
		mutate func(*config.Config)
		step   string
	}{
		{
			name:   "unsupported audit backend",
			mutate: func(c *config.Config) { c.Audit.Backend = "postgres" },
			step:   "audit",
		},
		{
			name:   "invalid sweep schedule",
			mutate: func(c *config.Config) { c.Anomaly.SweepSchedule = "not a cron" },
			step:   "anomaly",
		},
		{
			name:   "unknown anomaly timezone",
			mutate: func(c *config.Config) { c.Anomaly.Timezone = "Nowhere/Atlantis" },
			step:   "anomaly",
		},
		{
			name: "missing TLS certificate",
			mutate: func(c *config.Config) {
				c.Security.TLS.Enabled = true
				c.Security.TLS.CertFile = filepath.Join(missing, "server.crt")
				c.Security.TLS.KeyFile = filepath.Join(missing, "server.key")
			},
			step: "server",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)

			a, err := newApp(context.Background(), cfg)
			if err == nil {
				a.close(context.Background())
				t.Fatal("expected startup error")
			}
			if a != nil {
				t.Error("newApp returned a non-nil app alongside an error")
			}
			if !strings.Contains(err.Error(), tt.step+":") {
				t.Errorf("error = %v, want failure in step %q", err, tt.step)
			}
		})
	}
}

func TestNewApp_SnapshotRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.Anomaly.Snapshot.Enabled = true
	cfg.Anomaly.Snapshot.Path = filepath.Join(t.TempDir(), "anomaly.db")

	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	if err := a.close(context.Background()); err != nil {
		t.Fatalf("close() error = %v", err)
	}
	if _, err := os.Stat(cfg.Anomaly.Snapshot.Path); err != nil {
		t.Errorf("snapshot database not written: %v", err)
	}

	// A second start restores from the file written above.
	a, err = newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("second newApp() error = %v", err)
	}
	a.close(context.Background())
}

func TestApplyReload(t *testing.T) {
	cfg := testConfig()
	cfg.Security.Auth.Enabled = true
	cfg.Security.Auth.Keys = []auth.APIKeyInfo{{Key: "tg_first", SubjectID: "a", Enabled: true}}

	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.close(context.Background())

	if a.keys.Len() != 1 {
		t.Fatalf("keys = %d, want 1", a.keys.Len())
	}

	next := testConfig()
	next.Limits.Policies = map[string]limits.Policy{"patients": {Limit: 7}}
	next.Security.Auth.Enabled = true
	next.Security.Auth.Keys = []auth.APIKeyInfo{
		{Key: "tg_first", SubjectID: "a", Enabled: true},
		{Key: "tg_second", SubjectID: "b", Enabled: true},
	}
	next.Telemetry.Logging.Level = "debug"

	var level string
	a.applyReload(context.Background(), next, func(l string) error {
		level = l
		return nil
	})

	if got := a.policies.Get(limits.CategoryPatients).Limit; got != 7 {
		t.Errorf("patients limit = %d, want 7", got)
	}
	if a.keys.Len() != 2 {
		t.Errorf("keys = %d, want 2", a.keys.Len())
	}
	if level != "debug" {
		t.Errorf("level = %q, want debug", level)
	}

	bad := testConfig()
	bad.Limits.Policies = map[string]limits.Policy{"billing": {Limit: 1}}
	a.applyReload(context.Background(), bad, nil)
	if got := a.policies.Get(limits.CategoryPatients).Limit; got != 7 {
		t.Errorf("rejected reload changed the table: limit = %d", got)
	}
}

// ============================================================================
// stats / reset
// ============================================================================

func TestStatsCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != cli.StatsPath {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tg_admin" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(guard.Stats{ActiveSubjects: 3, BlockedSubjects: 1, TotalRequests: 42})
	}))
	defer srv.Close()

	out, err := execute(t, "stats", "--addr", srv.URL, "--api-key", "tg_admin", "--format", "json")
	if err != nil {
		t.Fatalf("stats error = %v", err)
	}
	var got guard.Stats
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got.TotalRequests != 42 || got.BlockedSubjects != 1 {
		t.Errorf("stats = %+v", got)
	}

	if _, err := execute(t, "stats", "--addr", srv.URL); err == nil {
		t.Error("expected error without an API key")
	}
}

func TestResetCommand(t *testing.T) {
	var gotSubject string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != cli.ResetPath {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req guard.ResetRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotSubject = req.SubjectID
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	out, err := execute(t, "reset", "user-123", "--addr", srv.URL)
	if err != nil {
		t.Fatalf("reset error = %v", err)
	}
	if gotSubject != "user-123" {
		t.Errorf("server saw subject %q", gotSubject)
	}
	if !strings.Contains(out, "user-123") {
		t.Errorf("output = %q", out)
	}

	if _, err := execute(t, "reset"); err == nil {
		t.Error("expected error without a subject")
	}
}

// ============================================================================
// audit
// ============================================================================

func seedAudit(t *testing.T, entries ...*audit.Entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	cfg := auditstorage.DefaultSQLiteConfig()
	cfg.Path = path
	store, err := auditstorage.NewSQLiteStorage(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if err := store.Store(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAuditQueryCommand(t *testing.T) {
	now := time.Now().UTC()
	path := seedAudit(t,
		&audit.Entry{ID: "1", Timestamp: now.Add(-2 * time.Hour), ActorID: "user-1", Action: audit.ActionRateLimitExceeded, Resource: "/api/patients"},
		&audit.Entry{ID: "2", Timestamp: now.Add(-time.Hour), ActorID: "user-2", Action: audit.ActionAPIError, Resource: "/api/ai/analyze"},
		&audit.Entry{ID: "3", Timestamp: now.Add(-48 * time.Hour), ActorID: "user-1", Action: audit.ActionRateLimitExceeded, Resource: "/api/dashboard"},
	)

	out, err := execute(t, "audit", "query", "--db", path, "--actor", "user-1", "--since", "24h")
	if err != nil {
		t.Fatalf("audit query error = %v", err)
	}
	var got []audit.Entry
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("entries = %+v, want only 1", got)
	}

	out, err = execute(t, "audit", "query", "--db", path, "--action", "rate_limit_exceeded", "--format", "csv")
	if err != nil {
		t.Fatalf("audit query --format csv error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("csv lines = %d, want header + 2:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[1], "3,") {
		t.Errorf("first row = %q, want oldest entry first", lines[1])
	}
}

func TestAuditQueryCommand_BadFlags(t *testing.T) {
	path := seedAudit(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown action", []string{"--action", "login"}},
		{"bad since", []string{"--since", "yesterday"}},
		{"until before since", []string{"--since", "1h", "--until", "2h"}},
		{"bad format", []string{"--format", "xml"}},
		{"negative limit", []string{"--limit", "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"audit", "query", "--db", path}, tt.args...)
			if _, err := execute(t, args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseTimeFlag(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		value   string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2026-05-01T00:00:00Z", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), false},
		{"90m", now.Add(-90 * time.Minute), false},
		{"-1h", time.Time{}, true},
		{"last week", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := parseTimeFlag("since", tt.value, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuditPruneCommand(t *testing.T) {
	now := time.Now().UTC()
	path := seedAudit(t,
		&audit.Entry{ID: "old", Timestamp: now.AddDate(0, 0, -100), ActorID: "u", Action: audit.ActionAPIError},
		&audit.Entry{ID: "new", Timestamp: now.Add(-time.Hour), ActorID: "u", Action: audit.ActionAPIError},
	)
	archive := filepath.Join(t.TempDir(), "archive")

	out, err := execute(t, "audit", "prune", "--db", path, "--days", "90", "--archive", archive)
	if err != nil {
		t.Fatalf("audit prune error = %v", err)
	}
	if !strings.Contains(out, "Deleted 1 entries") {
		t.Errorf("output = %q", out)
	}

	files, err := os.ReadDir(archive)
	if err != nil || len(files) != 1 {
		t.Errorf("archive files = %v, %v; want 1", files, err)
	}

	out, err = execute(t, "audit", "query", "--db", path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, `"old"`) || !strings.Contains(out, `"new"`) {
		t.Errorf("remaining entries:\n%s", out)
	}

	if _, err := execute(t, "audit", "prune", "--db", path, "--days", "0"); err == nil {
		t.Error("expected error for --days 0")
	}
}

// ============================================================================
// keys / certs
// ============================================================================

func TestKeysGenerateCommand(t *testing.T) {
	out, err := execute(t, "keys", "generate", "--subject", "dr-silva", "--role", "physician")
	if err != nil {
		t.Fatalf("keys generate error = %v", err)
	}

	_, snippet, ok := strings.Cut(out, "Add under security.auth.keys:\n")
	if !ok {
		t.Fatalf("output missing snippet:\n%s", out)
	}
	var keys []auth.APIKeyInfo
	if err := yaml.Unmarshal([]byte(snippet), &keys); err != nil {
		t.Fatalf("snippet is not YAML: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("keys = %d, want 1", len(keys))
	}
	k := keys[0]
	if k.SubjectID != "dr-silva" || k.Role != "physician" || !k.Enabled {
		t.Errorf("key = %+v", k)
	}
	if !strings.HasPrefix(k.Key, apiKeyPrefix) || len(k.Key) != len(apiKeyPrefix)+43 {
		t.Errorf("key %q has unexpected shape", k.Key)
	}

	if _, err := execute(t, "keys", "generate"); err == nil {
		t.Error("expected error without --subject")
	}
}

func TestNewAPIKey_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		k, err := newAPIKey()
		if err != nil {
			t.Fatal(err)
		}
		if seen[k] {
			t.Fatalf("duplicate key %q", k)
		}
		seen[k] = true
	}
}

func TestCertsGenerateAndCheck(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "certs", "generate", "--host", "localhost,127.0.0.1", "--output", dir)
	if err != nil {
		t.Fatalf("certs generate error = %v", err)
	}
	if !strings.Contains(out, "cert_file") {
		t.Errorf("output missing config snippet:\n%s", out)
	}

	info, err := os.Stat(filepath.Join(dir, "server.key"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("key permissions = %o, want 0600", info.Mode().Perm())
	}

	out, err = execute(t, "certs", "check",
		"--cert", filepath.Join(dir, "server.crt"),
		"--key", filepath.Join(dir, "server.key"))
	if err != nil {
		t.Fatalf("certs check error = %v", err)
	}
	for _, want := range []string{"Subject:    localhost", "127.0.0.1", "Certificate valid"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCertsCheck_ExpiringSoon(t *testing.T) {
	dir := t.TempDir()
	if _, err := execute(t, "certs", "generate", "--validity", "10", "--output", dir); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "certs", "check",
		"--cert", filepath.Join(dir, "server.crt"),
		"--key", filepath.Join(dir, "server.key"))
	if err != nil {
		t.Fatalf("certs check error = %v", err)
	}
	if !strings.Contains(out, "expires soon") {
		t.Errorf("output = %q", out)
	}
}

func TestCertsCheck_Mismatch(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	for _, dir := range []string{first, second} {
		if _, err := execute(t, "certs", "generate", "--output", dir); err != nil {
			t.Fatal(err)
		}
	}

	_, err := execute(t, "certs", "check",
		"--cert", filepath.Join(first, "server.crt"),
		"--key", filepath.Join(second, "server.key"))
	if err == nil {
		t.Error("expected error for a mismatched pair")
	}
}
