package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "TURNSTILE_"

// LoadConfig loads configuration from a YAML file at the specified path.
// Fields the file omits keep their defaults, including booleans that default
// to true. The result is validated. Environment variables are not consulted;
// use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML onto the default configuration and fills any zero
// values the document introduced. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention TURNSTILE_SECTION_FIELD (e.g., TURNSTILE_SERVER_LISTEN_ADDRESS)
// and always take precedence over the file.
//
// The loading sequence is:
// 1. Start from defaults
// 2. Decode YAML from file
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// LoadDefaultsWithEnvOverrides returns the built-in defaults with
// environment overrides applied, for running without a file.
func LoadDefaultsWithEnvOverrides() (*Config, error) {
	cfg := Default()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// envOverrides collects parse failures so a mistyped variable is reported
// instead of silently ignored.
type envOverrides struct {
	errs []FieldError
}

func (o *envOverrides) str(name string, dst *string) {
	if val, ok := os.LookupEnv(EnvPrefix + name); ok && val != "" {
		*dst = val
	}
}

func (o *envOverrides) list(name string, dst *[]string) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
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

func (o *envOverrides) boolean(name string, dst *bool) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		o.fail(name, val, "a boolean")
		return
	}
	*dst = b
}

func (o *envOverrides) integer(name string, dst *int) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		o.fail(name, val, "an integer")
		return
	}
	*dst = i
}

func (o *envOverrides) integer64(name string, dst *int64) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return
	}
	i, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		o.fail(name, val, "an integer")
		return
	}
	*dst = i
}

func (o *envOverrides) float(name string, dst *float64) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		o.fail(name, val, "a number")
		return
	}
	*dst = f
}

func (o *envOverrides) duration(name string, dst *time.Duration) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		o.fail(name, val, "a duration")
		return
	}
	*dst = d
}

func (o *envOverrides) fail(name, val, want string) {
	o.errs = append(o.errs, FieldError{
		Field:   EnvPrefix + name,
		Message: fmt.Sprintf("%q is not %s", val, want),
	})
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	o := &envOverrides{}

	// Server overrides
	o.str("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	o.duration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	o.duration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	o.duration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	o.duration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	o.str("SERVER_ADMIN_TOKEN", &cfg.Server.AdminToken)
	o.boolean("SERVER_TRUST_PROXY_HEADERS", &cfg.Server.TrustProxyHeaders)

	// Limits overrides
	o.boolean("LIMITS_DISTRIBUTED", &cfg.Limits.Distributed)
	o.list("LIMITS_REDIS_ADDRESSES", &cfg.Limits.Redis.Addresses)
	o.str("LIMITS_REDIS_PASSWORD", &cfg.Limits.Redis.Password)
	o.integer("LIMITS_REDIS_DB", &cfg.Limits.Redis.DB)
	o.integer("LIMITS_REDIS_POOL_SIZE", &cfg.Limits.Redis.PoolSize)
	o.str("LIMITS_REDIS_KEY_PREFIX", &cfg.Limits.Redis.KeyPrefix)
	o.float("LIMITS_BREAKER_FAILURE_RATE_THRESHOLD", &cfg.Limits.Breaker.FailureRateThreshold)
	o.duration("LIMITS_BREAKER_WAIT_DURATION", &cfg.Limits.Breaker.WaitDuration)
	o.duration("LIMITS_BREAKER_CALL_TIMEOUT", &cfg.Limits.Breaker.CallTimeout)
	o.integer64("LIMITS_FLOOD_THRESHOLD", &cfg.Limits.Flood.Threshold)
	o.duration("LIMITS_FLOOD_BLOCK_DURATION", &cfg.Limits.Flood.BlockDuration)
	o.integer64("LIMITS_VIOLATIONS_THRESHOLD", &cfg.Limits.Violations.Threshold)
	o.duration("LIMITS_VIOLATIONS_BLOCK_DURATION", &cfg.Limits.Violations.BlockDuration)
	o.boolean("LIMITS_QUOTA_TRACKING", &cfg.Limits.Quota.Tracking)
	o.str("LIMITS_SWEEPS_TIMEZONE", &cfg.Limits.Sweeps.Timezone)
	o.str("LIMITS_ALERTS_NATS_URL", &cfg.Limits.Alerts.NATSURL)

	// Telemetry overrides
	o.str("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	o.str("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	o.boolean("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	o.str("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	o.boolean("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	o.str("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	o.float("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)

	if len(o.errs) > 0 {
		return ValidationError{Errors: o.errs}
	}
	return nil
}
