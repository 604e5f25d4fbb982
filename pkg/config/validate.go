package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/rpzk/throttleguard/pkg/limits/coordinated"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// HasField reports whether any error is about field.
func (e ValidationError) HasField(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateAnomaly(&cfg.Anomaly)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateGuard(&cfg.Guard)...)
	errs = append(errs, validateSecurity(&cfg.Security)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if !strings.Contains(cfg.ListenAddress, ":") {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: expected host:port", cfg.ListenAddress),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout cannot be negative"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout cannot be negative"})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.idle_timeout", Message: "idle timeout cannot be negative"})
	}
	if cfg.ShutdownTimeout <= 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "shutdown timeout must be positive"})
	}
	if cfg.MaxHeaderBytes <= 0 {
		errs = append(errs, FieldError{Field: "server.max_header_bytes", Message: "max header bytes must be positive"})
	}

	return errs
}

func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	if _, err := cfg.PolicyTable(); err != nil {
		errs = append(errs, FieldError{
			Field:   "limits.policies",
			Message: err.Error(),
		})
	}

	algorithm, err := coordinated.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		errs = append(errs, FieldError{
			Field:   "limits.algorithm",
			Message: err.Error(),
		})
	} else if algorithm == coordinated.AlgorithmSlidingLog && cfg.ForceLocal {
		errs = append(errs, FieldError{
			Field:   "limits.algorithm",
			Message: "sliding_log is only available in the coordinated limiter; remove limits.force_local or use fixed_window",
		})
	}

	if cfg.CleanupInterval <= 0 {
		errs = append(errs, FieldError{Field: "limits.cleanup_interval", Message: "cleanup interval must be positive"})
	}
	if cfg.ProbeTimeout <= 0 {
		errs = append(errs, FieldError{Field: "limits.probe_timeout", Message: "probe timeout must be positive"})
	}

	r := &cfg.Redis
	if r.Enabled || cfg.Environment == "production" {
		if r.Address == "" {
			errs = append(errs, FieldError{
				Field:   "limits.redis.address",
				Message: "address is required when the coordination store is used",
			})
		}
	}
	if r.DB < 0 {
		errs = append(errs, FieldError{Field: "limits.redis.db", Message: "database index cannot be negative"})
	}
	if r.PoolSize < 0 {
		errs = append(errs, FieldError{Field: "limits.redis.pool_size", Message: "pool size cannot be negative"})
	}
	if r.OpTimeout <= 0 {
		errs = append(errs, FieldError{Field: "limits.redis.op_timeout", Message: "operation timeout must be positive"})
	}
	if r.MaxRetries < 0 {
		errs = append(errs, FieldError{Field: "limits.redis.max_retries", Message: "max retries cannot be negative"})
	}

	return errs
}

func validateAnomaly(cfg *AnomalyConfig) []FieldError {
	var errs []FieldError

	if cfg.HistoryCapacity <= 0 {
		errs = append(errs, FieldError{Field: "anomaly.history_capacity", Message: "history capacity must be positive"})
	}
	if cfg.HistoryRetention <= 0 {
		errs = append(errs, FieldError{Field: "anomaly.history_retention", Message: "history retention must be positive"})
	}
	if cfg.SuspiciousSourceTTL <= 0 {
		errs = append(errs, FieldError{Field: "anomaly.suspicious_source_ttl", Message: "suspicious source TTL must be positive"})
	}
	for i, p := range cfg.SensitivePrefixes {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("anomaly.sensitive_prefixes[%d]", i),
				Message: fmt.Sprintf("prefix %q must start with /", p),
			})
		}
	}
	if _, err := cfg.Location(); err != nil {
		errs = append(errs, FieldError{
			Field:   "anomaly.timezone",
			Message: fmt.Sprintf("unknown time zone %q: %v", cfg.Timezone, err),
		})
	}
	if err := validateSchedule(cfg.SweepSchedule); err != nil {
		errs = append(errs, FieldError{Field: "anomaly.sweep_schedule", Message: err.Error()})
	}
	if cfg.Snapshot.Enabled && cfg.Snapshot.Path == "" {
		errs = append(errs, FieldError{
			Field:   "anomaly.snapshot.path",
			Message: "snapshot path is required when snapshots are enabled",
		})
	}

	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "audit.sqlite.path",
				Message: "SQLite path is required when backend is sqlite",
			})
		}
		if cfg.SQLite.MaxOpenConns < 0 {
			errs = append(errs, FieldError{Field: "audit.sqlite.max_open_conns", Message: "max open connections cannot be negative"})
		}
		if cfg.SQLite.MaxIdleConns > cfg.SQLite.MaxOpenConns {
			errs = append(errs, FieldError{
				Field:   "audit.sqlite.max_idle_conns",
				Message: "max idle connections cannot exceed max open connections",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "audit.backend",
			Message: fmt.Sprintf("invalid backend %q: must be one of: memory, sqlite", cfg.Backend),
		})
	}

	r := &cfg.Recorder
	if r.AsyncBuffer <= 0 {
		errs = append(errs, FieldError{Field: "audit.recorder.async_buffer", Message: "async buffer must be positive"})
	}
	if r.WriteTimeout <= 0 {
		errs = append(errs, FieldError{Field: "audit.recorder.write_timeout", Message: "write timeout must be positive"})
	}
	if r.FallbackSize <= 0 {
		errs = append(errs, FieldError{Field: "audit.recorder.fallback_size", Message: "fallback size must be positive"})
	}
	if r.BreakerThreshold <= 0 {
		errs = append(errs, FieldError{Field: "audit.recorder.breaker_threshold", Message: "breaker threshold must be positive"})
	}
	if r.BreakerCoolDown <= 0 {
		errs = append(errs, FieldError{Field: "audit.recorder.breaker_cool_down", Message: "breaker cool-down must be positive"})
	}

	if cfg.Retention.Enabled {
		if cfg.Retention.Days < 0 {
			errs = append(errs, FieldError{Field: "audit.retention.days", Message: "retention days cannot be negative"})
		}
		if err := validateSchedule(cfg.Retention.Schedule); err != nil {
			errs = append(errs, FieldError{Field: "audit.retention.schedule", Message: err.Error()})
		}
		if cfg.Retention.ArchiveBeforeDelete && cfg.Retention.ArchivePath == "" {
			errs = append(errs, FieldError{
				Field:   "audit.retention.archive_path",
				Message: "archive path is required when archiving before delete",
			})
		}
	}

	return errs
}

func validateGuard(cfg *GuardConfig) []FieldError {
	var errs []FieldError

	if cfg.Workers <= 0 {
		errs = append(errs, FieldError{Field: "guard.workers", Message: "workers must be positive"})
	}
	if cfg.QueueSize <= 0 {
		errs = append(errs, FieldError{Field: "guard.queue_size", Message: "queue size must be positive"})
	}
	if cfg.TaskTimeout <= 0 {
		errs = append(errs, FieldError{Field: "guard.task_timeout", Message: "task timeout must be positive"})
	}

	return errs
}

func validateSecurity(cfg *SecurityConfig) []FieldError {
	var errs []FieldError

	// Validate TLS configuration
	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			errs = append(errs, FieldError{
				Field:   "security.tls.cert_file",
				Message: "TLS certificate file is required when TLS is enabled",
			})
		}
		if cfg.TLS.KeyFile == "" {
			errs = append(errs, FieldError{
				Field:   "security.tls.key_file",
				Message: "TLS key file is required when TLS is enabled",
			})
		}
		if cfg.TLS.MinVersion != "1.2" && cfg.TLS.MinVersion != "1.3" {
			errs = append(errs, FieldError{
				Field:   "security.tls.min_version",
				Message: fmt.Sprintf("invalid TLS version %q: must be 1.2 or 1.3", cfg.TLS.MinVersion),
			})
		}
		if cfg.TLS.ReloadInterval <= 0 {
			errs = append(errs, FieldError{
				Field:   "security.tls.cert_reload_interval",
				Message: "reload interval must be positive",
			})
		}
	}

	// Validate secret providers
	for i, p := range cfg.Secrets.Providers {
		field := fmt.Sprintf("security.secrets.providers[%d]", i)
		switch p.Type {
		case "env":
		case "file":
			if p.Path == "" {
				errs = append(errs, FieldError{
					Field:   field + ".path",
					Message: "path is required for file provider",
				})
			}
		default:
			errs = append(errs, FieldError{
				Field:   field + ".type",
				Message: fmt.Sprintf("invalid provider type %q: must be one of: env, file", p.Type),
			})
		}
	}

	// Validate authentication
	for i, s := range cfg.Auth.Sources {
		field := fmt.Sprintf("security.auth.sources[%d]", i)
		if s.Type != "header" && s.Type != "query" {
			errs = append(errs, FieldError{
				Field:   field + ".type",
				Message: fmt.Sprintf("invalid source type %q: must be header or query", s.Type),
			})
		}
		if s.Name == "" {
			errs = append(errs, FieldError{Field: field + ".name", Message: "source name is required"})
		}
	}
	for i, k := range cfg.Auth.Keys {
		field := fmt.Sprintf("security.auth.keys[%d]", i)
		if k.Key == "" {
			errs = append(errs, FieldError{Field: field + ".key", Message: "key is required"})
		}
		if k.SubjectID == "" {
			errs = append(errs, FieldError{Field: field + ".subject_id", Message: "subject ID is required"})
		}
	}
	if cfg.Auth.Enabled && !cfg.Auth.AllowAnonymous && len(cfg.Auth.Keys) == 0 && cfg.Auth.KeysFile == "" {
		errs = append(errs, FieldError{
			Field:   "security.auth.keys",
			Message: "at least one key or a keys file is required when anonymous access is disabled",
		})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	// Validate logging
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q: must be one of: debug, info, warn, error", cfg.Logging.Level),
		})
	}
	switch cfg.Logging.Format {
	case "json", "text", "console":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q: must be one of: json, text, console", cfg.Logging.Format),
		})
	}
	for i, p := range cfg.Logging.RedactPatterns {
		if p.Pattern == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i),
				Message: "pattern is required",
			})
		}
	}

	// Validate metrics
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: fmt.Sprintf("metrics path %q must start with /", cfg.Metrics.Path),
		})
	}

	// Validate tracing
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "endpoint is required when tracing is enabled",
		})
	}
	switch cfg.Tracing.Sampler {
	case "always", "never", "ratio":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be one of: always, never, ratio", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	// Validate health
	if cfg.Health.CheckTimeout <= 0 {
		errs = append(errs, FieldError{Field: "telemetry.health.check_timeout", Message: "check timeout must be positive"})
	}

	return errs
}

// validateSchedule checks a standard five-field cron expression.
func validateSchedule(spec string) error {
	if spec == "" {
		return fmt.Errorf("schedule is required")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}
