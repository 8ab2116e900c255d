package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
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
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLimits(&cfg.Limits)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: fmt.Sprintf("invalid address: %v", err)})
	}

	errs = append(errs, nonNegative("server.read_timeout", cfg.ReadTimeout)...)
	errs = append(errs, nonNegative("server.write_timeout", cfg.WriteTimeout)...)
	errs = append(errs, nonNegative("server.idle_timeout", cfg.IdleTimeout)...)
	errs = append(errs, nonNegative("server.shutdown_timeout", cfg.ShutdownTimeout)...)

	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_header_bytes", Message: "max header bytes must not be negative"})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "max body bytes must not be negative"})
	}
	return errs
}

func validateLimits(cfg *LimitsConfig) []FieldError {
	var errs []FieldError

	if cfg.Distributed {
		if len(cfg.Redis.Addresses) == 0 {
			errs = append(errs, FieldError{Field: "limits.redis.addresses", Message: "at least one address is required in distributed mode"})
		}
		for i, addr := range cfg.Redis.Addresses {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("limits.redis.addresses[%d]", i),
					Message: fmt.Sprintf("invalid address %q: %v", addr, err),
				})
			}
		}
	}
	if cfg.Redis.DB < 0 {
		errs = append(errs, FieldError{Field: "limits.redis.db", Message: "db must not be negative"})
	}
	if cfg.Redis.PoolSize < 0 {
		errs = append(errs, FieldError{Field: "limits.redis.pool_size", Message: "pool size must not be negative"})
	}

	b := cfg.Breaker
	if b.FailureRateThreshold < 0 || b.FailureRateThreshold > 1 {
		errs = append(errs, FieldError{Field: "limits.breaker.failure_rate_threshold", Message: "failure rate threshold must be between 0.0 and 1.0"})
	}
	if b.MinimumCalls > b.SlidingWindowSize {
		errs = append(errs, FieldError{Field: "limits.breaker.minimum_calls", Message: "minimum calls must not exceed the sliding window size"})
	}
	if b.SuccessThreshold > b.HalfOpenMaxCalls {
		errs = append(errs, FieldError{Field: "limits.breaker.success_threshold", Message: "success threshold must not exceed half open max calls"})
	}
	errs = append(errs, nonNegative("limits.breaker.wait_duration", b.WaitDuration)...)
	errs = append(errs, nonNegative("limits.breaker.call_timeout", b.CallTimeout)...)

	if cfg.LocalCache.MaxEntries < 0 {
		errs = append(errs, FieldError{Field: "limits.local_cache.max_entries", Message: "max entries must not be negative"})
	}
	if cfg.Flood.Threshold < 0 {
		errs = append(errs, FieldError{Field: "limits.flood.threshold", Message: "threshold must not be negative"})
	}
	errs = append(errs, nonNegative("limits.flood.window", cfg.Flood.Window)...)
	errs = append(errs, nonNegative("limits.flood.block_duration", cfg.Flood.BlockDuration)...)
	if cfg.Violations.Threshold < 0 {
		errs = append(errs, FieldError{Field: "limits.violations.threshold", Message: "threshold must not be negative"})
	}
	errs = append(errs, nonNegative("limits.violations.window", cfg.Violations.Window)...)
	errs = append(errs, nonNegative("limits.violations.block_duration", cfg.Violations.BlockDuration)...)

	errs = append(errs, validateRateLimit("limits.global", cfg.Global)...)
	for op, rl := range cfg.GlobalOverrides {
		errs = append(errs, validateOperationName("limits.global_overrides", op)...)
		errs = append(errs, validateRateLimit("limits.global_overrides."+op, rl)...)
	}
	for op, rl := range cfg.Operations {
		errs = append(errs, validateOperationName("limits.operations", op)...)
		errs = append(errs, validateRateLimit("limits.operations."+op, rl)...)
	}

	for name, tier := range cfg.Tiers {
		field := "limits.tiers." + name
		if strings.TrimSpace(name) == "" {
			errs = append(errs, FieldError{Field: "limits.tiers", Message: "tier name must not be empty"})
		}
		if tier.Multiplier <= 0 {
			errs = append(errs, FieldError{Field: field + ".multiplier", Message: "multiplier must be positive"})
		}
		if tier.RequestsPerMinute < 0 || tier.RequestsPerHour < 0 || tier.RequestsPerDay < 0 || tier.RequestsPerMonth < 0 {
			errs = append(errs, FieldError{Field: field, Message: "request quotas must not be negative"})
		}
	}

	for i, addr := range cfg.Whitelist.Addresses {
		if strings.TrimSpace(addr) == "" {
			errs = append(errs, FieldError{Field: fmt.Sprintf("limits.whitelist.addresses[%d]", i), Message: "address must not be empty"})
		}
	}
	for i, user := range cfg.Whitelist.Users {
		if strings.TrimSpace(user) == "" {
			errs = append(errs, FieldError{Field: fmt.Sprintf("limits.whitelist.users[%d]", i), Message: "user must not be empty"})
		}
	}

	errs = append(errs, validateSweeps(&cfg.Sweeps)...)

	errs = append(errs, nonNegative("limits.alerts.interval", cfg.Alerts.Interval)...)
	errs = append(errs, nonNegative("limits.alerts.timeout", cfg.Alerts.Timeout)...)
	if cfg.Alerts.Burst < 0 {
		errs = append(errs, FieldError{Field: "limits.alerts.burst", Message: "burst must not be negative"})
	}
	if strings.ContainsAny(cfg.Alerts.Subject, " *>") {
		errs = append(errs, FieldError{Field: "limits.alerts.subject", Message: fmt.Sprintf("subject %q must not contain spaces or wildcards", cfg.Alerts.Subject)})
	}
	return errs
}

func validateSweeps(cfg *SweepsConfig) []FieldError {
	var errs []FieldError

	schedules := []struct {
		field    string
		schedule string
	}{
		{"limits.sweeps.adjustments", cfg.Adjustments},
		{"limits.sweeps.flood", cfg.Flood},
		{"limits.sweeps.local_buckets", cfg.LocalBuckets},
		{"limits.sweeps.blocks", cfg.Blocks},
		{"limits.sweeps.quota_daily", cfg.QuotaDaily},
		{"limits.sweeps.quota_monthly", cfg.QuotaMonthly},
		{"limits.sweeps.quota_snapshot", cfg.QuotaSnapshot},
	}
	for _, s := range schedules {
		if s.schedule == "-" || s.schedule == "" {
			continue
		}
		if _, err := cron.ParseStandard(s.schedule); err != nil {
			errs = append(errs, FieldError{Field: s.field, Message: fmt.Sprintf("invalid cron schedule %q: %v", s.schedule, err)})
		}
	}

	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			errs = append(errs, FieldError{Field: "limits.sweeps.timezone", Message: fmt.Sprintf("unknown time zone %q", cfg.Timezone)})
		}
	}
	return errs
}

func validateRateLimit(field string, rl RateLimitConfig) []FieldError {
	var errs []FieldError
	if rl.LongTermLimit < 0 || rl.ShortTermLimit < 0 {
		errs = append(errs, FieldError{Field: field, Message: "limits must not be negative"})
	}
	if rl.LongTermPeriod < 0 || rl.ShortTermPeriod < 0 {
		errs = append(errs, FieldError{Field: field, Message: "periods must not be negative"})
	}
	if rl.Burst < 0 {
		errs = append(errs, FieldError{Field: field + ".burst", Message: "burst must not be negative"})
	}
	return errs
}

// validateOperationName checks the shape of an operation key. The engine
// applies the full character rules when the table is built.
func validateOperationName(field, op string) []FieldError {
	switch {
	case strings.TrimSpace(op) == "":
		return []FieldError{{Field: field, Message: "operation name must not be empty"}}
	case len(op) > 128:
		return []FieldError{{Field: field, Message: fmt.Sprintf("operation name %q exceeds 128 characters", op)}}
	}
	return nil
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.level", Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn, or error)", cfg.Logging.Level)})
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.format", Message: fmt.Sprintf("invalid log format %q (must be json or text)", cfg.Logging.Format)})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "metrics path must start with /"})
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never", "ratio":
		default:
			errs = append(errs, FieldError{Field: "telemetry.tracing.sampler", Message: fmt.Sprintf("invalid sampler %q (must be always, never, or ratio)", cfg.Tracing.Sampler)})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "sample ratio must be between 0.0 and 1.0"})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
		}
	}

	for field, path := range map[string]string{
		"telemetry.health.liveness_path":  cfg.Health.LivenessPath,
		"telemetry.health.readiness_path": cfg.Health.ReadinessPath,
		"telemetry.health.version_path":   cfg.Health.VersionPath,
	} {
		if !strings.HasPrefix(path, "/") {
			errs = append(errs, FieldError{Field: field, Message: "path must start with /"})
		}
	}
	errs = append(errs, nonNegative("telemetry.health.check_timeout", cfg.Health.CheckTimeout)...)
	return errs
}

func nonNegative(field string, d time.Duration) []FieldError {
	if d < 0 {
		return []FieldError{{Field: field, Message: "duration must not be negative"}}
	}
	return nil
}
