package config

import (
	"time"

	"github.com/rpzk/throttleguard/pkg/limits"
	"github.com/rpzk/throttleguard/pkg/security/auth"
)

// Config is the root configuration structure for throttleguard.
// It contains all configuration sections for the server, limiters,
// anomaly detection, audit trail, security and telemetry.
type Config struct {
	// Server contains HTTP server configuration including listen address
	// and timeouts.
	Server ServerConfig `yaml:"server"`

	// Limits contains the rate limit policy table and the limiter backend
	// selection, including the coordination store.
	Limits LimitsConfig `yaml:"limits"`

	// Anomaly contains anomaly detector configuration.
	Anomaly AnomalyConfig `yaml:"anomaly"`

	// Audit contains audit trail configuration including storage backend,
	// asynchronous recording and retention.
	Audit AuditConfig `yaml:"audit"`

	// Guard contains configuration for the request guard's background pool.
	Guard GuardConfig `yaml:"guard"`

	// Security contains TLS, secret management and authentication settings.
	Security SecurityConfig `yaml:"security"`

	// Telemetry contains observability configuration including logging,
	// metrics, tracing and health checks.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum time to wait for the next request.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will read
	// parsing the request header.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// TrustProxyHeaders makes X-Forwarded-For and X-Real-IP the source of the
	// client address. Enable only behind a trusted reverse proxy.
	// Default: false
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`

	// AdminRole, when set, is the role required on the admin endpoints.
	// Default: "" (admin endpoints are open)
	AdminRole string `yaml:"admin_role"`
}

// LimitsConfig contains rate limiting configuration.
type LimitsConfig struct {
	// ForceLocal always selects the in-process limiter, regardless of
	// Environment or the coordination store.
	// Default: false
	ForceLocal bool `yaml:"force_local"`

	// Environment is the deployment mode. "production" selects the
	// coordinated limiter.
	// Default: "development"
	Environment string `yaml:"environment"`

	// Algorithm is the counting policy for the whole process.
	// Options: "fixed_window", "sliding_log" (coordinated only)
	// Default: "fixed_window"
	Algorithm string `yaml:"algorithm"`

	// CleanupInterval is how often the local limiter evicts idle entries.
	// Default: 1m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// ProbeTimeout bounds the start-up health probe of the coordination store.
	// Default: 2s
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// Policies overrides the built-in policy table per category name.
	// Fields left empty keep the built-in value.
	Policies map[string]limits.Policy `yaml:"policies"`

	// Redis configures the coordination store.
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig contains coordination store configuration.
type RedisConfig struct {
	// Enabled selects the coordinated limiter outside production.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Address is the host:port of the Redis server.
	// Default: "localhost:6379"
	Address string `yaml:"address"`

	// Username is the ACL user name. May be a ${secret:name} reference.
	Username string `yaml:"username"`

	// Password may be a ${secret:name} reference.
	Password string `yaml:"password"`

	// DB is the database index.
	// Default: 0
	DB int `yaml:"db"`

	// PoolSize is the maximum number of socket connections.
	// Default: 10
	PoolSize int `yaml:"pool_size"`

	// DialTimeout bounds establishing a connection.
	// Default: 1s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// OpTimeout bounds each limiter round trip.
	// Default: 50ms
	OpTimeout time.Duration `yaml:"op_timeout"`

	// MaxRetries is how often a failed round trip is retried before the
	// limiter fails open. Zero means a single attempt.
	// Default: 1
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the initial delay between retries.
	// Default: 10ms
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// Namespace is prepended to every key the limiter writes.
	// Default: "throttleguard:"
	Namespace string `yaml:"namespace"`
}

// AnomalyConfig contains anomaly detector configuration.
type AnomalyConfig struct {
	// HistoryCapacity bounds the event history.
	// Default: 10000
	HistoryCapacity int `yaml:"history_capacity"`

	// HistoryRetention is how far back the sweep keeps events.
	// Default: 24h
	HistoryRetention time.Duration `yaml:"history_retention"`

	// SuspiciousSourceTTL is how long a flagged source stays flagged.
	// Default: 168h (7 days)
	SuspiciousSourceTTL time.Duration `yaml:"suspicious_source_ttl"`

	// SensitivePrefixes are endpoint prefixes with the lower abuse threshold.
	// Default: ["/api/ai", "/api/analysis"]
	SensitivePrefixes []string `yaml:"sensitive_prefixes"`

	// Timezone is the IANA zone used for hour-of-day.
	// Default: "UTC"
	Timezone string `yaml:"timezone"`

	// SweepSchedule is a standard cron expression for the history sweep.
	// Default: "0 * * * *" (hourly)
	SweepSchedule string `yaml:"sweep_schedule"`

	// Snapshot persists profiles and flagged sources across restarts.
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

// SnapshotConfig contains anomaly state snapshot configuration.
type SnapshotConfig struct {
	// Enabled restores state at start-up and saves it at shutdown.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file.
	// Default: "data/anomaly.db"
	Path string `yaml:"path"`
}

// Location returns the configured time zone.
func (a *AnomalyConfig) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(a.Timezone)
}

// AuditConfig contains audit trail configuration.
type AuditConfig struct {
	// Backend is the storage backend.
	// Options: "memory", "sqlite"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite backend configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Recorder contains asynchronous recording configuration.
	Recorder RecorderConfig `yaml:"recorder"`

	// Retention contains retention policy configuration.
	Retention RetentionConfig `yaml:"retention"`
}

// SQLiteConfig contains SQLite storage configuration.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/audit.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables Write-Ahead Logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RecorderConfig contains audit recorder configuration.
type RecorderConfig struct {
	// AsyncBuffer is the size of the write queue.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer"`

	// EnqueueTimeout bounds how long a record waits for queue space.
	// Default: 50ms
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`

	// WriteTimeout bounds a single storage write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// FallbackSize is the capacity of the in-memory fallback ring.
	// Default: 1000
	FallbackSize int `yaml:"fallback_size"`

	// BreakerThreshold is the number of consecutive write failures that
	// opens the circuit breaker.
	// Default: 3
	BreakerThreshold int `yaml:"breaker_threshold"`

	// BreakerCoolDown is how long the breaker stays open before probing.
	// Default: 30s
	BreakerCoolDown time.Duration `yaml:"breaker_cool_down"`
}

// RetentionConfig contains audit retention configuration.
type RetentionConfig struct {
	// Enabled runs the scheduled pruner.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Days is the number of days to keep entries. Disable retention to keep
	// them forever.
	// Default: 90
	Days int `yaml:"days"`

	// Schedule is a standard cron expression.
	// Default: "0 3 * * *" (daily at 3 AM)
	Schedule string `yaml:"schedule"`

	// ArchiveBeforeDelete writes expiring entries to ArchivePath first.
	// Default: false
	ArchiveBeforeDelete bool `yaml:"archive_before_delete"`

	// ArchivePath is the archive directory.
	// Default: "data/archives/"
	ArchivePath string `yaml:"archive_path"`
}

// GuardConfig contains request guard configuration.
type GuardConfig struct {
	// Workers is the number of goroutines running post-response work.
	// Default: 4
	Workers int `yaml:"workers"`

	// QueueSize bounds pending post-response tasks.
	// Default: 1024
	QueueSize int `yaml:"queue_size"`

	// TaskTimeout bounds each post-response task.
	// Default: 5s
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

// SecurityConfig contains security-related configuration.
type SecurityConfig struct {
	// TLS contains TLS configuration for the HTTP server.
	TLS TLSConfig `yaml:"tls"`

	// Secrets contains secret management configuration.
	Secrets SecretsConfig `yaml:"secrets"`

	// Auth contains API key authentication configuration.
	Auth AuthConfig `yaml:"auth"`
}

// TLSConfig contains TLS configuration.
type TLSConfig struct {
	// Enabled controls whether the server listens with TLS.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// CertFile is the path to the PEM certificate file.
	// Required when Enabled is true.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM private key file.
	// Required when Enabled is true.
	KeyFile string `yaml:"key_file"`

	// MinVersion is the minimum TLS version to accept.
	// Options: "1.2", "1.3"
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// CipherSuites is a list of enabled TLS 1.2 cipher suites.
	// If empty, Go's default secure cipher suites are used.
	CipherSuites []string `yaml:"cipher_suites"`

	// ReloadInterval is how often to check the certificate files for changes.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"cert_reload_interval"`
}

// SecretsConfig contains secret management configuration.
type SecretsConfig struct {
	// Providers is a list of secret providers, tried in order.
	Providers []SecretProviderConfig `yaml:"providers"`

	// CacheTTL is how long a resolved secret is cached.
	// Default: 5m
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// CacheMaxSize is the maximum number of cached secrets.
	// Default: 100
	CacheMaxSize int `yaml:"cache_max_size"`
}

// SecretProviderConfig contains configuration for a secret provider.
type SecretProviderConfig struct {
	// Type is the provider type.
	// Options: "env", "file"
	Type string `yaml:"type"`

	// Prefix is the environment variable prefix (for "env").
	// Example: "THROTTLEGUARD_SECRET_"
	Prefix string `yaml:"prefix,omitempty"`

	// Path is the directory holding one file per secret (for "file").
	// Example: "/var/run/secrets/throttleguard"
	Path string `yaml:"path,omitempty"`

	// Watch reloads file secrets when the directory changes (for "file").
	Watch bool `yaml:"watch,omitempty"`
}

// AuthConfig contains API key authentication configuration.
type AuthConfig struct {
	// Enabled turns on API key authentication for guarded routes.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// AllowAnonymous lets requests without a key through as anonymous
	// subjects, keyed by client address and user agent.
	// Default: true
	AllowAnonymous bool `yaml:"allow_anonymous"`

	// KeysFile is a YAML file with a top-level "keys" list, loaded in
	// addition to Keys.
	KeysFile string `yaml:"keys_file"`

	// Keys are inline API keys. Key values may be ${secret:name} references.
	Keys []auth.APIKeyInfo `yaml:"keys"`

	// Sources lists where keys are read from, in order.
	// Default: Authorization Bearer, then X-API-Key
	Sources []auth.APIKeySource `yaml:"sources"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains structured logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains Prometheus metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains OpenTelemetry tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII masks emails, API keys, bearer tokens and IP addresses.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`

	// RedactPatterns are extra redaction rules applied after the built-in ones.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern is a custom redaction rule.
type RedactPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics are recorded and served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path metrics are served on.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace prefixes every metric name.
	// Default: "throttleguard"
	Namespace string `yaml:"namespace"`

	// CheckDurationBuckets are the histogram buckets for limiter checks, in
	// seconds.
	CheckDurationBuckets []float64 `yaml:"check_duration_buckets"`

	// RequestDurationBuckets are the histogram buckets for HTTP requests, in
	// seconds.
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`
}

// TracingConfig contains OpenTelemetry tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// ServiceName is reported as the service.name resource attribute.
	// Default: "throttleguard"
	ServiceName string `yaml:"service_name"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the OTLP connection.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// Sampler is the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "always"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the sampled fraction for the "ratio" sampler.
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`
}

// HealthConfig contains health endpoint configuration.
type HealthConfig struct {
	// CheckTimeout bounds each readiness check.
	// Default: 2s
	CheckTimeout time.Duration `yaml:"check_timeout"`

	// RateLimit caps health endpoint requests per second. A negative value
	// disables the cap.
	// Default: 10
	RateLimit float64 `yaml:"rate_limit"`
}
