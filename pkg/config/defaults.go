package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB

	// Limits defaults
	DefaultEnvironment       = "development"
	DefaultAlgorithm         = "fixed_window"
	DefaultCleanupInterval   = time.Minute
	DefaultProbeTimeout      = 2 * time.Second
	DefaultRedisAddress      = "localhost:6379"
	DefaultRedisPoolSize     = 10
	DefaultRedisDialTimeout  = time.Second
	DefaultRedisOpTimeout    = 50 * time.Millisecond
	DefaultRedisMaxRetries   = 1
	DefaultRedisRetryBackoff = 10 * time.Millisecond
	DefaultRedisNamespace    = "throttleguard:"

	// Anomaly defaults
	DefaultHistoryCapacity     = 10000
	DefaultHistoryRetention    = 24 * time.Hour
	DefaultSuspiciousSourceTTL = 7 * 24 * time.Hour
	DefaultTimezone            = "UTC"
	DefaultSweepSchedule       = "0 * * * *"
	DefaultSnapshotPath        = "data/anomaly.db"

	// Audit defaults
	DefaultAuditBackend              = "sqlite"
	DefaultAuditSQLitePath           = "data/audit.db"
	DefaultAuditSQLiteMaxOpenConns   = 10
	DefaultAuditSQLiteMaxIdleConns   = 5
	DefaultAuditSQLiteBusyTimeout    = 5 * time.Second
	DefaultAuditAsyncBuffer          = 1000
	DefaultAuditEnqueueTimeout       = 50 * time.Millisecond
	DefaultAuditWriteTimeout         = 5 * time.Second
	DefaultAuditFallbackSize         = 1000
	DefaultAuditBreakerThreshold     = 3
	DefaultAuditBreakerCoolDown      = 30 * time.Second
	DefaultAuditRetentionDays        = 90
	DefaultAuditRetentionSchedule    = "0 3 * * *"
	DefaultAuditRetentionArchivePath = "data/archives/"

	// Guard defaults
	DefaultGuardWorkers     = 4
	DefaultGuardQueueSize   = 1024
	DefaultGuardTaskTimeout = 5 * time.Second

	// Security defaults
	DefaultTLSMinVersion     = "1.3"
	DefaultTLSReloadInterval = 5 * time.Minute
	DefaultSecretsCacheTTL   = 5 * time.Minute
	DefaultSecretsCacheSize  = 100

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "throttleguard"
	DefaultServiceName        = "throttleguard"
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingTimeout     = 10 * time.Second
	DefaultTracingSampler     = "always"
	DefaultTracingSampleRatio = 1.0
	DefaultHealthCheckTimeout = 2 * time.Second
	DefaultHealthRateLimit    = 10.0
)

// DefaultSensitivePrefixes are the endpoint prefixes with the lower abuse
// threshold.
var DefaultSensitivePrefixes = []string{"/api/ai", "/api/analysis"}

// Default returns a configuration with every default applied, including the
// boolean switches that default to true and the fields where zero is a
// meaningful setting. A YAML document is decoded on top of
// it, so keys absent from the file keep these values.
func Default() *Config {
	cfg := &Config{}
	cfg.Audit.SQLite.WALMode = true
	cfg.Audit.Retention.Enabled = true
	cfg.Security.Auth.AllowAnonymous = true
	cfg.Telemetry.Logging.RedactPII = true
	cfg.Telemetry.Metrics.Enabled = true
	cfg.Limits.Redis.MaxRetries = DefaultRedisMaxRetries
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyLimitsDefaults(&cfg.Limits)
	applyAnomalyDefaults(&cfg.Anomaly)
	applyAuditDefaults(&cfg.Audit)
	applyGuardDefaults(&cfg.Guard)
	applySecurityDefaults(&cfg.Security)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyServerDefaults(s *ServerConfig) {
	if s.ListenAddress == "" {
		s.ListenAddress = DefaultListenAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.MaxHeaderBytes == 0 {
		s.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
}

func applyLimitsDefaults(l *LimitsConfig) {
	if l.Environment == "" {
		l.Environment = DefaultEnvironment
	}
	if l.Algorithm == "" {
		l.Algorithm = DefaultAlgorithm
	}
	if l.CleanupInterval == 0 {
		l.CleanupInterval = DefaultCleanupInterval
	}
	if l.ProbeTimeout == 0 {
		l.ProbeTimeout = DefaultProbeTimeout
	}

	r := &l.Redis
	if r.Address == "" {
		r.Address = DefaultRedisAddress
	}
	if r.PoolSize == 0 {
		r.PoolSize = DefaultRedisPoolSize
	}
	if r.DialTimeout == 0 {
		r.DialTimeout = DefaultRedisDialTimeout
	}
	if r.OpTimeout == 0 {
		r.OpTimeout = DefaultRedisOpTimeout
	}
	if r.RetryBackoff == 0 {
		r.RetryBackoff = DefaultRedisRetryBackoff
	}
	if r.Namespace == "" {
		r.Namespace = DefaultRedisNamespace
	}
}

func applyAnomalyDefaults(a *AnomalyConfig) {
	if a.HistoryCapacity == 0 {
		a.HistoryCapacity = DefaultHistoryCapacity
	}
	if a.HistoryRetention == 0 {
		a.HistoryRetention = DefaultHistoryRetention
	}
	if a.SuspiciousSourceTTL == 0 {
		a.SuspiciousSourceTTL = DefaultSuspiciousSourceTTL
	}
	if a.SensitivePrefixes == nil {
		a.SensitivePrefixes = append([]string(nil), DefaultSensitivePrefixes...)
	}
	if a.Timezone == "" {
		a.Timezone = DefaultTimezone
	}
	if a.SweepSchedule == "" {
		a.SweepSchedule = DefaultSweepSchedule
	}
	if a.Snapshot.Path == "" {
		a.Snapshot.Path = DefaultSnapshotPath
	}
}

func applyAuditDefaults(a *AuditConfig) {
	if a.Backend == "" {
		a.Backend = DefaultAuditBackend
	}
	if a.SQLite.Path == "" {
		a.SQLite.Path = DefaultAuditSQLitePath
	}
	if a.SQLite.MaxOpenConns == 0 {
		a.SQLite.MaxOpenConns = DefaultAuditSQLiteMaxOpenConns
	}
	if a.SQLite.MaxIdleConns == 0 {
		a.SQLite.MaxIdleConns = DefaultAuditSQLiteMaxIdleConns
	}
	if a.SQLite.BusyTimeout == 0 {
		a.SQLite.BusyTimeout = DefaultAuditSQLiteBusyTimeout
	}

	r := &a.Recorder
	if r.AsyncBuffer == 0 {
		r.AsyncBuffer = DefaultAuditAsyncBuffer
	}
	if r.EnqueueTimeout == 0 {
		r.EnqueueTimeout = DefaultAuditEnqueueTimeout
	}
	if r.WriteTimeout == 0 {
		r.WriteTimeout = DefaultAuditWriteTimeout
	}
	if r.FallbackSize == 0 {
		r.FallbackSize = DefaultAuditFallbackSize
	}
	if r.BreakerThreshold == 0 {
		r.BreakerThreshold = DefaultAuditBreakerThreshold
	}
	if r.BreakerCoolDown == 0 {
		r.BreakerCoolDown = DefaultAuditBreakerCoolDown
	}

	if a.Retention.Days == 0 {
		a.Retention.Days = DefaultAuditRetentionDays
	}
	if a.Retention.Schedule == "" {
		a.Retention.Schedule = DefaultAuditRetentionSchedule
	}
	if a.Retention.ArchivePath == "" {
		a.Retention.ArchivePath = DefaultAuditRetentionArchivePath
	}
}

func applyGuardDefaults(g *GuardConfig) {
	if g.Workers == 0 {
		g.Workers = DefaultGuardWorkers
	}
	if g.QueueSize == 0 {
		g.QueueSize = DefaultGuardQueueSize
	}
	if g.TaskTimeout == 0 {
		g.TaskTimeout = DefaultGuardTaskTimeout
	}
}

func applySecurityDefaults(s *SecurityConfig) {
	if s.TLS.MinVersion == "" {
		s.TLS.MinVersion = DefaultTLSMinVersion
	}
	if s.TLS.ReloadInterval == 0 {
		s.TLS.ReloadInterval = DefaultTLSReloadInterval
	}
	if s.Secrets.CacheTTL == 0 {
		s.Secrets.CacheTTL = DefaultSecretsCacheTTL
	}
	if s.Secrets.CacheMaxSize == 0 {
		s.Secrets.CacheMaxSize = DefaultSecretsCacheSize
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLoggingLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLoggingFormat
	}

	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}

	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultServiceName
	}
	if t.Tracing.Endpoint == "" {
		t.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if t.Tracing.Timeout == 0 {
		t.Tracing.Timeout = DefaultTracingTimeout
	}
	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}

	if t.Health.CheckTimeout == 0 {
		t.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
	if t.Health.RateLimit == 0 {
		t.Health.RateLimit = DefaultHealthRateLimit
	}
}
