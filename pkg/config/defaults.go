package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultMaxBodyBytes    = 65536

	// Redis defaults
	DefaultRedisAddress     = "127.0.0.1:6379"
	DefaultRedisPoolSize    = 50
	DefaultRedisDialTimeout = 2 * time.Second
	DefaultRedisKeyPrefix   = "turnstile:"

	// Breaker defaults
	DefaultBreakerFailureRate      = 0.5
	DefaultBreakerWindowSize       = 100
	DefaultBreakerMinimumCalls     = 10
	DefaultBreakerWaitDuration     = 30 * time.Second
	DefaultBreakerHalfOpenMaxCalls = 10
	DefaultBreakerSuccessThreshold = 3
	DefaultBreakerCallTimeout      = 250 * time.Millisecond

	// Local store defaults
	DefaultLocalCacheMaxEntries = 100000
	DefaultLocalCacheTTL        = time.Minute

	// Abuse detection defaults
	DefaultFloodThreshold          = 1000
	DefaultFloodWindow             = time.Minute
	DefaultFloodBlockDuration      = time.Hour
	DefaultViolationsThreshold     = 20
	DefaultViolationsWindow        = time.Hour
	DefaultViolationsBlockDuration = 6 * time.Hour

	// Sweep defaults
	DefaultSweepAdjustments   = "@every 1m"
	DefaultSweepFlood         = "@every 5m"
	DefaultSweepLocalBuckets  = "@every 10m"
	DefaultSweepBlocks        = "@every 5m"
	DefaultSweepQuotaDaily    = "0 0 * * *"
	DefaultSweepQuotaMonthly  = "0 0 1 * *"
	DefaultSweepQuotaSnapshot = "@every 1m"
	DefaultSweepTimezone      = "Local"

	// Alert defaults
	DefaultAlertsInterval = time.Second
	DefaultAlertsBurst    = 10
	DefaultAlertsTimeout  = 2 * time.Second
	DefaultAlertsSubject  = "turnstile.security"

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingServiceName = "turnstile"
	DefaultTracingTimeout     = 10 * time.Second
	DefaultLivenessPath       = "/health/live"
	DefaultReadinessPath      = "/health/ready"
	DefaultVersionPath        = "/version"
	DefaultHealthCheckTimeout = 2 * time.Second
)

// Default returns a configuration with every default applied, including
// the boolean settings that default to true. Loading a file starts from
// this value, so booleans the file omits keep their defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.TrustProxyHeaders = true
	cfg.Limits.Quota.Tracking = true
	cfg.Telemetry.Metrics.Enabled = true
	cfg.Telemetry.Tracing.Insecure = true
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets defaults for any fields that have zero values.
// It is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyLimitsDefaults(&cfg.Limits)
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
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

func applyLimitsDefaults(l *LimitsConfig) {
	// Redis defaults
	if len(l.Redis.Addresses) == 0 {
		l.Redis.Addresses = []string{DefaultRedisAddress}
	}
	if l.Redis.PoolSize == 0 {
		l.Redis.PoolSize = DefaultRedisPoolSize
	}
	if l.Redis.DialTimeout == 0 {
		l.Redis.DialTimeout = DefaultRedisDialTimeout
	}
	if l.Redis.KeyPrefix == "" {
		l.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// Breaker defaults
	b := &l.Breaker
	if b.FailureRateThreshold == 0 {
		b.FailureRateThreshold = DefaultBreakerFailureRate
	}
	if b.SlidingWindowSize == 0 {
		b.SlidingWindowSize = DefaultBreakerWindowSize
	}
	if b.MinimumCalls == 0 {
		b.MinimumCalls = DefaultBreakerMinimumCalls
	}
	if b.WaitDuration == 0 {
		b.WaitDuration = DefaultBreakerWaitDuration
	}
	if b.HalfOpenMaxCalls == 0 {
		b.HalfOpenMaxCalls = DefaultBreakerHalfOpenMaxCalls
	}
	if b.SuccessThreshold == 0 {
		b.SuccessThreshold = DefaultBreakerSuccessThreshold
	}
	if b.CallTimeout == 0 {
		b.CallTimeout = DefaultBreakerCallTimeout
	}

	// Local store defaults
	if l.LocalCache.MaxEntries == 0 {
		l.LocalCache.MaxEntries = DefaultLocalCacheMaxEntries
	}
	if l.LocalCache.TTL == 0 {
		l.LocalCache.TTL = DefaultLocalCacheTTL
	}

	// Abuse detection defaults
	if l.Flood.Threshold == 0 {
		l.Flood.Threshold = DefaultFloodThreshold
	}
	if l.Flood.Window == 0 {
		l.Flood.Window = DefaultFloodWindow
	}
	if l.Flood.BlockDuration == 0 {
		l.Flood.BlockDuration = DefaultFloodBlockDuration
	}
	if l.Violations.Threshold == 0 {
		l.Violations.Threshold = DefaultViolationsThreshold
	}
	if l.Violations.Window == 0 {
		l.Violations.Window = DefaultViolationsWindow
	}
	if l.Violations.BlockDuration == 0 {
		l.Violations.BlockDuration = DefaultViolationsBlockDuration
	}

	// Sweep defaults
	s := &l.Sweeps
	setDefault(&s.Adjustments, DefaultSweepAdjustments)
	setDefault(&s.Flood, DefaultSweepFlood)
	setDefault(&s.LocalBuckets, DefaultSweepLocalBuckets)
	setDefault(&s.Blocks, DefaultSweepBlocks)
	setDefault(&s.QuotaDaily, DefaultSweepQuotaDaily)
	setDefault(&s.QuotaMonthly, DefaultSweepQuotaMonthly)
	setDefault(&s.QuotaSnapshot, DefaultSweepQuotaSnapshot)
	setDefault(&s.Timezone, DefaultSweepTimezone)

	// Alert defaults
	if l.Alerts.Interval == 0 {
		l.Alerts.Interval = DefaultAlertsInterval
	}
	if l.Alerts.Burst == 0 {
		l.Alerts.Burst = DefaultAlertsBurst
	}
	if l.Alerts.Timeout == 0 {
		l.Alerts.Timeout = DefaultAlertsTimeout
	}
	setDefault(&l.Alerts.Subject, DefaultAlertsSubject)
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	setDefault(&t.Logging.Level, DefaultLoggingLevel)
	setDefault(&t.Logging.Format, DefaultLoggingFormat)
	setDefault(&t.Metrics.Path, DefaultMetricsPath)

	setDefault(&t.Tracing.Sampler, DefaultTracingSampler)
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	setDefault(&t.Tracing.ServiceName, DefaultTracingServiceName)
	if t.Tracing.Timeout == 0 {
		t.Tracing.Timeout = DefaultTracingTimeout
	}

	setDefault(&t.Health.LivenessPath, DefaultLivenessPath)
	setDefault(&t.Health.ReadinessPath, DefaultReadinessPath)
	setDefault(&t.Health.VersionPath, DefaultVersionPath)
	if t.Health.CheckTimeout == 0 {
		t.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
