// Package config provides configuration management for throttleguard.
//
// This package handles loading, validating and watching configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("throttleguard.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("throttleguard.yaml")
//
// An empty path yields the built-in defaults.
//
// # Environment Variable Overrides
//
// A .env file in the working directory is loaded first when present.
// Variables follow the naming convention THROTTLEGUARD_SECTION_FIELD:
//
//   - THROTTLEGUARD_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - THROTTLEGUARD_LIMITS_REDIS_ADDRESS overrides limits.redis.address
//   - THROTTLEGUARD_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Policies
//
// limits.policies overrides the built-in policy table per category:
//
//	limits:
//	  policies:
//	    aiMedical:
//	      limit: 10
//	      block_duration: 10m
//
// Unknown category names are rejected, and every category always ends up
// with a complete policy.
//
// # Hot Reload
//
// Watcher reloads the file on change. The run command uses it to swap the
// policy table and the API keys and to change the log level. Other sections
// need a restart.
package config
