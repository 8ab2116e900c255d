package config

import "time"

// Config is the root configuration structure for turnstile.
// It contains the HTTP server, admission engine and telemetry sections.
type Config struct {
	// Server contains HTTP server configuration including listen address,
	// timeouts and the admin token.
	Server ServerConfig `yaml:"server"`

	// Limits contains the admission engine configuration: shared store,
	// breaker, flood and violation thresholds, operation and tier tables.
	Limits LimitsConfig `yaml:"limits"`

	// Telemetry contains configuration for logging, metrics, tracing and
	// health endpoints.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes limits admission request bodies.
	// Default: 65536
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// AdminToken, when set, is required as a bearer token on /v1/admin
	// routes. Empty leaves the admin routes open, which is only suitable
	// when the listener is not reachable from outside.
	AdminToken string `yaml:"admin_token"`

	// TrustProxyHeaders makes client address extraction honour forwarding
	// headers (X-Forwarded-For, CF-Connecting-IP, ...). When false only the
	// connection's remote address is used.
	// Default: true
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

// LimitsConfig contains configuration for the admission engine.
type LimitsConfig struct {
	// Distributed keeps buckets in Redis so that every instance enforces
	// the same budget.
	// Default: false
	Distributed bool `yaml:"distributed"`

	// Redis configures the shared store. Required when Distributed is true.
	Redis RedisConfig `yaml:"redis"`

	// Breaker configures the circuit breaker that guards Redis.
	Breaker BreakerConfig `yaml:"breaker"`

	// LocalCache bounds the in-process bucket store.
	LocalCache LocalCacheConfig `yaml:"local_cache"`

	// Flood configures automatic blocking of flooding tenants and addresses.
	Flood FloodConfig `yaml:"flood"`

	// Violations configures escalation of repeated limit violations.
	Violations ViolationsConfig `yaml:"violations"`

	// Global is the system-wide ceiling applied per operation. Zero values
	// use the built-in ceiling.
	Global RateLimitConfig `yaml:"global"`

	// GlobalOverrides replaces the global ceiling for specific operations.
	GlobalOverrides map[string]RateLimitConfig `yaml:"global_overrides"`

	// Operations overrides or extends the built-in operation table.
	// This section is hot-reloaded.
	Operations map[string]RateLimitConfig `yaml:"operations"`

	// Tiers overrides or extends the built-in subscription tiers.
	Tiers map[string]TierConfig `yaml:"tiers"`

	// Whitelist seeds exempt users and addresses.
	// This section is hot-reloaded.
	Whitelist WhitelistConfig `yaml:"whitelist"`

	// Quota configures per-user quota tracking.
	Quota QuotaConfig `yaml:"quota"`

	// Sweeps schedules background cleanup.
	Sweeps SweepsConfig `yaml:"sweeps"`

	// Alerts configures security event delivery.
	Alerts AlertsConfig `yaml:"alerts"`
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	// Addresses lists "host:port" endpoints. More than one address selects
	// a cluster client.
	// Default: ["127.0.0.1:6379"]
	Addresses []string `yaml:"addresses"`

	// Password authenticates the connection.
	Password string `yaml:"password"`

	// DB selects the logical database. Ignored for clusters.
	// Default: 0
	DB int `yaml:"db"`

	// PoolSize is the connection pool size per node.
	// Default: 50
	PoolSize int `yaml:"pool_size"`

	// DialTimeout bounds connection establishment.
	// Default: 2s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// KeyPrefix is prepended to every key.
	// Default: "turnstile:"
	KeyPrefix string `yaml:"key_prefix"`
}

// BreakerConfig contains circuit breaker configuration.
type BreakerConfig struct {
	// FailureRateThreshold opens the breaker (0.0 to 1.0).
	// Default: 0.5
	FailureRateThreshold float64 `yaml:"failure_rate_threshold"`

	// SlidingWindowSize is the number of recent calls considered.
	// Default: 100
	SlidingWindowSize int `yaml:"sliding_window_size"`

	// MinimumCalls is required before the failure rate is evaluated.
	// Default: 10
	MinimumCalls int `yaml:"minimum_calls"`

	// WaitDuration is how long the breaker stays open.
	// Default: 30s
	WaitDuration time.Duration `yaml:"wait_duration"`

	// HalfOpenMaxCalls bounds concurrent trial calls.
	// Default: 10
	HalfOpenMaxCalls int `yaml:"half_open_max_calls"`

	// SuccessThreshold is the number of trial successes that close it.
	// Default: 3
	SuccessThreshold int `yaml:"success_threshold"`

	// CallTimeout bounds each Redis call.
	// Default: 250ms
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// LocalCacheConfig bounds the local bucket store.
type LocalCacheConfig struct {
	// MaxEntries is the maximum number of local buckets.
	// Default: 100000
	MaxEntries int `yaml:"max_entries"`

	// TTL is how long a local bucket lives after creation.
	// Default: 1m
	TTL time.Duration `yaml:"ttl"`
}

// FloodConfig configures flood detection.
type FloodConfig struct {
	// Threshold is the request count within Window above which a key is
	// blocked.
	// Default: 1000
	Threshold int64 `yaml:"threshold"`

	// Window is the trailing window requests are counted in.
	// Default: 1m
	Window time.Duration `yaml:"window"`

	// BlockDuration is how long a flooding key stays blocked.
	// Default: 1h
	BlockDuration time.Duration `yaml:"block_duration"`
}

// ViolationsConfig configures violation escalation.
type ViolationsConfig struct {
	// Threshold is the violation count within Window above which the
	// caller is blocked.
	// Default: 20
	Threshold int64 `yaml:"threshold"`

	// Window is how long violations are remembered.
	// Default: 1h
	Window time.Duration `yaml:"window"`

	// BlockDuration is how long an escalated caller stays blocked.
	// Default: 6h
	BlockDuration time.Duration `yaml:"block_duration"`
}

// RateLimitConfig is a dual-bandwidth bucket configuration. A bandwidth
// with a zero limit or period is disabled.
type RateLimitConfig struct {
	LongTermLimit   int64         `yaml:"long_term_limit"`
	LongTermPeriod  time.Duration `yaml:"long_term_period"`
	ShortTermLimit  int64         `yaml:"short_term_limit"`
	ShortTermPeriod time.Duration `yaml:"short_term_period"`
	Burst           int64         `yaml:"burst"`
}

// IsZero reports whether no field is set.
func (c RateLimitConfig) IsZero() bool {
	return c == RateLimitConfig{}
}

// TierConfig describes a subscription tier.
type TierConfig struct {
	// Multiplier scales every operation limit for callers in the tier.
	Multiplier float64 `yaml:"multiplier"`

	RequestsPerMinute int64 `yaml:"requests_per_minute"`
	RequestsPerHour   int64 `yaml:"requests_per_hour"`
	RequestsPerDay    int64 `yaml:"requests_per_day"`
	RequestsPerMonth  int64 `yaml:"requests_per_month"`
}

// WhitelistConfig lists callers exempt from every check.
type WhitelistConfig struct {
	Users     []string `yaml:"users"`
	Addresses []string `yaml:"addresses"`
}

// QuotaConfig configures per-user quota tracking.
type QuotaConfig struct {
	// Tracking counts every admitted request against the user's daily and
	// monthly quota.
	// Default: true
	Tracking bool `yaml:"tracking"`
}

// SweepsConfig holds cron schedules for background cleanup. A schedule of
// "-" disables the sweep.
type SweepsConfig struct {
	// Default: "@every 1m"
	Adjustments string `yaml:"adjustments"`

	// Default: "@every 5m"
	Flood string `yaml:"flood"`

	// Default: "@every 10m"
	LocalBuckets string `yaml:"local_buckets"`

	// Default: "@every 5m"
	Blocks string `yaml:"blocks"`

	// Default: "0 0 * * *"
	QuotaDaily string `yaml:"quota_daily"`

	// Default: "0 0 1 * *"
	QuotaMonthly string `yaml:"quota_monthly"`

	// QuotaSnapshot mirrors quotas into Redis in distributed mode.
	// Default: "@every 1m"
	QuotaSnapshot string `yaml:"quota_snapshot"`

	// Timezone is the IANA zone quota resets follow.
	// Default: "Local"
	Timezone string `yaml:"timezone"`
}

// AlertsConfig configures security event delivery.
type AlertsConfig struct {
	// Interval is the steady rate of events per type.
	// Default: 1s
	Interval time.Duration `yaml:"interval"`

	// Burst is how many events of one type may be sent at once.
	// Default: 10
	Burst int `yaml:"burst"`

	// Timeout bounds a single delivery.
	// Default: 2s
	Timeout time.Duration `yaml:"timeout"`

	// NATSURL, when set, also publishes events to NATS. Events are always
	// logged.
	// Example: "nats://127.0.0.1:4222"
	NATSURL string `yaml:"nats_url"`

	// Subject is the NATS subject prefix; the event type is appended.
	// Default: "turnstile.security"
	Subject string `yaml:"subject"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health endpoint configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	// Enabled exposes the Prometheus endpoint.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces sampled when Sampler is "ratio".
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP/gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "turnstile"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS to the collector.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the liveness probe path.
	// Default: "/health/live"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the readiness probe path.
	// Default: "/health/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// VersionPath is the version endpoint path.
	// Default: "/version"
	VersionPath string `yaml:"version_path"`

	// CheckTimeout bounds each readiness check.
	// Default: 2s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
