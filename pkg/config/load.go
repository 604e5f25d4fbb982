package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "THROTTLEGUARD_"

// LoadConfig loads configuration from a YAML file at the specified path.
// Keys missing from the file keep their defaults. An empty path yields the
// defaults alone. The result is validated; environment variables are not
// consulted, use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention THROTTLEGUARD_SECTION_FIELD (e.g., THROTTLEGUARD_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load a .env file from the working directory, if present
// 2. Load YAML from file and apply defaults
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if errs := applyEnvOverrides(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid environment override: %w", ValidationError{Errors: errs})
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// envOverrides collects the overrides of one pass; a value that does not
// parse is reported against its variable name.
type envOverrides struct {
	errs []FieldError
}

func (o *envOverrides) stringVar(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func (o *envOverrides) boolVar(name string, dst *bool) {
	val := os.Getenv(EnvPrefix + name)
	if val == "" {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		o.errs = append(o.errs, FieldError{Field: EnvPrefix + name, Message: fmt.Sprintf("invalid boolean %q", val)})
		return
	}
	*dst = b
}

func (o *envOverrides) intVar(name string, dst *int) {
	val := os.Getenv(EnvPrefix + name)
	if val == "" {
		return
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		o.errs = append(o.errs, FieldError{Field: EnvPrefix + name, Message: fmt.Sprintf("invalid integer %q", val)})
		return
	}
	*dst = i
}

func (o *envOverrides) durationVar(name string, dst *time.Duration) {
	val := os.Getenv(EnvPrefix + name)
	if val == "" {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		o.errs = append(o.errs, FieldError{Field: EnvPrefix + name, Message: fmt.Sprintf("invalid duration %q", val)})
		return
	}
	*dst = d
}

func (o *envOverrides) listVar(name string, dst *[]string) {
	val := os.Getenv(EnvPrefix + name)
	if val == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format THROTTLEGUARD_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) []FieldError {
	o := &envOverrides{}

	// Server overrides
	o.stringVar("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	o.durationVar("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	o.durationVar("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	o.durationVar("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	o.boolVar("SERVER_TRUST_PROXY_HEADERS", &cfg.Server.TrustProxyHeaders)
	o.stringVar("SERVER_ADMIN_ROLE", &cfg.Server.AdminRole)

	// Limits overrides
	o.boolVar("LIMITS_FORCE_LOCAL", &cfg.Limits.ForceLocal)
	o.stringVar("LIMITS_ENVIRONMENT", &cfg.Limits.Environment)
	o.stringVar("LIMITS_ALGORITHM", &cfg.Limits.Algorithm)
	o.boolVar("LIMITS_REDIS_ENABLED", &cfg.Limits.Redis.Enabled)
	o.stringVar("LIMITS_REDIS_ADDRESS", &cfg.Limits.Redis.Address)
	o.stringVar("LIMITS_REDIS_USERNAME", &cfg.Limits.Redis.Username)
	o.stringVar("LIMITS_REDIS_PASSWORD", &cfg.Limits.Redis.Password)
	o.intVar("LIMITS_REDIS_DB", &cfg.Limits.Redis.DB)
	o.intVar("LIMITS_REDIS_POOL_SIZE", &cfg.Limits.Redis.PoolSize)
	o.durationVar("LIMITS_REDIS_OP_TIMEOUT", &cfg.Limits.Redis.OpTimeout)
	o.stringVar("LIMITS_REDIS_NAMESPACE", &cfg.Limits.Redis.Namespace)

	// Anomaly overrides
	o.stringVar("ANOMALY_TIMEZONE", &cfg.Anomaly.Timezone)
	o.listVar("ANOMALY_SENSITIVE_PREFIXES", &cfg.Anomaly.SensitivePrefixes)
	o.stringVar("ANOMALY_SWEEP_SCHEDULE", &cfg.Anomaly.SweepSchedule)
	o.boolVar("ANOMALY_SNAPSHOT_ENABLED", &cfg.Anomaly.Snapshot.Enabled)
	o.stringVar("ANOMALY_SNAPSHOT_PATH", &cfg.Anomaly.Snapshot.Path)

	// Audit overrides
	o.stringVar("AUDIT_BACKEND", &cfg.Audit.Backend)
	o.stringVar("AUDIT_SQLITE_PATH", &cfg.Audit.SQLite.Path)
	o.boolVar("AUDIT_RETENTION_ENABLED", &cfg.Audit.Retention.Enabled)
	o.intVar("AUDIT_RETENTION_DAYS", &cfg.Audit.Retention.Days)
	o.stringVar("AUDIT_RETENTION_SCHEDULE", &cfg.Audit.Retention.Schedule)

	// Guard overrides
	o.intVar("GUARD_WORKERS", &cfg.Guard.Workers)
	o.intVar("GUARD_QUEUE_SIZE", &cfg.Guard.QueueSize)

	// Security overrides
	o.boolVar("SECURITY_TLS_ENABLED", &cfg.Security.TLS.Enabled)
	o.stringVar("SECURITY_TLS_CERT_FILE", &cfg.Security.TLS.CertFile)
	o.stringVar("SECURITY_TLS_KEY_FILE", &cfg.Security.TLS.KeyFile)
	o.boolVar("SECURITY_AUTH_ENABLED", &cfg.Security.Auth.Enabled)
	o.boolVar("SECURITY_AUTH_ALLOW_ANONYMOUS", &cfg.Security.Auth.AllowAnonymous)
	o.stringVar("SECURITY_AUTH_KEYS_FILE", &cfg.Security.Auth.KeysFile)

	// Telemetry overrides
	o.stringVar("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	o.stringVar("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	o.boolVar("TELEMETRY_LOGGING_REDACT_PII", &cfg.Telemetry.Logging.RedactPII)
	o.boolVar("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	o.stringVar("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	o.boolVar("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	o.stringVar("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	o.boolVar("TELEMETRY_TRACING_INSECURE", &cfg.Telemetry.Tracing.Insecure)
	o.stringVar("TELEMETRY_TRACING_SAMPLER", &cfg.Telemetry.Tracing.Sampler)

	return o.errs
}
