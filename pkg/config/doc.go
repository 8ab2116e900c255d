// Package config provides configuration management for turnstile.
//
// This package handles loading, validating and reloading configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("turnstile.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("turnstile.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention TURNSTILE_SECTION_FIELD.
// For example:
//
//   - TURNSTILE_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - TURNSTILE_LIMITS_REDIS_ADDRESSES overrides limits.redis.addresses (comma separated)
//   - TURNSTILE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// A variable that cannot be parsed fails loading.
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
// # Hot Reload
//
// Watcher reloads the file when it changes. The operation table and the
// whitelist are applied to a running engine; other sections need a restart.
package config
