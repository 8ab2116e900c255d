package limits

import (
	"fmt"
	"time"

	"mercator-hq/turnstile/pkg/limits/breaker"
	"mercator-hq/turnstile/pkg/limits/ratelimit"
	"mercator-hq/turnstile/pkg/limits/tiers"
)

// Config configures an Engine. DefaultConfig returns a ready-to-use value;
// NewEngine fills any zero field with its default.
type Config struct {
	// Distributed keeps buckets in Redis so every instance shares them.
	Distributed bool

	// Redis configures the shared store when Distributed is set and no
	// client is supplied with WithRedisClient.
	Redis RedisConfig

	// Breaker configures the availability guard in front of Redis.
	Breaker breaker.Config

	// LocalCache bounds the in-process bucket store.
	LocalCache LocalCacheConfig

	// Flood configures flood detection.
	Flood FloodConfig

	// Violations configures escalation of repeat offenders.
	Violations ViolationConfig

	// Global is the system-wide ceiling applied per operation.
	Global ratelimit.Config

	// GlobalOverrides replaces Global for specific operations.
	GlobalOverrides map[string]ratelimit.Config

	// Operations overrides or extends the built-in operation table.
	Operations map[string]ratelimit.Config

	// Tiers overrides or extends the built-in tier table.
	Tiers map[string]tiers.Config

	// Whitelist seeds the whitelist at startup.
	Whitelist WhitelistConfig

	// QuotaTracking charges every admitted request to the user's quota.
	QuotaTracking bool

	// Sweeps schedules background cleanup.
	Sweeps SweepConfig

	// Alerts throttles security event delivery.
	Alerts AlertConfig
}

// RedisConfig configures the Redis client built by NewEngine.
type RedisConfig struct {
	// Addrs lists Redis endpoints. One address connects to a single node;
	// several connect to a cluster.
	Addrs []string

	Password string
	DB       int

	// PoolSize bounds open connections. Zero uses the client default.
	PoolSize int

	// DialTimeout bounds connection setup.
	// Default: 2 seconds
	DialTimeout time.Duration

	// KeyPrefix is prepended to every key.
	// Default: "turnstile:"
	KeyPrefix string
}

// LocalCacheConfig bounds the local bucket store.
type LocalCacheConfig struct {
	// MaxEntries bounds the number of buckets.
	// Default: 100,000
	MaxEntries int

	// TTL is how long a local bucket lives after creation.
	// Default: 60 seconds
	TTL time.Duration
}

// FloodConfig configures flood detection.
type FloodConfig struct {
	// Threshold is the number of requests per Window one tenant or
	// address may make before it is blocked.
	// Default: 1000
	Threshold int64

	// Window is the trailing counting interval.
	// Default: 60 seconds
	Window time.Duration

	// BlockDuration is how long a flooding key stays blocked.
	// Default: 1 hour
	BlockDuration time.Duration
}

// ViolationConfig configures violation escalation.
type ViolationConfig struct {
	// Threshold is the number of violations tolerated within Window; the
	// next one blocks the caller.
	// Default: 20
	Threshold int64

	// Window restarts on every violation.
	// Default: 1 hour
	Window time.Duration

	// BlockDuration is how long an escalated caller stays blocked.
	// Default: 6 hours
	BlockDuration time.Duration
}

// WhitelistConfig seeds the whitelist.
type WhitelistConfig struct {
	Users     []string
	Addresses []string
}

// SweepConfig holds cron schedules for background cleanup. Schedules use
// the standard five-field syntax or descriptors such as "@every 1m".
type SweepConfig struct {
	Adjustments   string
	Flood         string
	LocalBuckets  string
	Blocks        string
	QuotaDaily    string
	QuotaMonthly  string
	QuotaSnapshot string

	// FloodMaxAge is the age beyond which flood timestamps are dropped.
	// Default: 10 minutes
	FloodMaxAge time.Duration

	// LocalMaxAge is the idle age beyond which local sliding windows and
	// violation counters are dropped.
	// Default: 10 minutes
	LocalMaxAge time.Duration

	// Location is the time zone quota resets follow.
	// Default: time.Local
	Location *time.Location
}

// AlertConfig bounds security event delivery per event type.
type AlertConfig struct {
	// Interval is the steady-state spacing between events of one type.
	// Default: 1 second
	Interval time.Duration

	// Burst is the number of events of one type delivered back to back.
	// Default: 10
	Burst int

	// Timeout bounds each delivery.
	// Default: 2 seconds
	Timeout time.Duration
}

// DefaultConfig returns the default engine configuration: local mode,
// quota tracking on.
func DefaultConfig() Config {
	cfg := Config{QuotaTracking: true}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Redis.DialTimeout <= 0 {
		c.Redis.DialTimeout = 2 * time.Second
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "turnstile:"
	}
	if c.Breaker.Name == "" {
		c.Breaker.Name = "redis"
	}
	if c.LocalCache.MaxEntries <= 0 {
		c.LocalCache.MaxEntries = 100000
	}
	if c.LocalCache.TTL <= 0 {
		c.LocalCache.TTL = time.Minute
	}
	if c.Flood.Threshold <= 0 {
		c.Flood.Threshold = 1000
	}
	if c.Flood.Window <= 0 {
		c.Flood.Window = time.Minute
	}
	if c.Flood.BlockDuration <= 0 {
		c.Flood.BlockDuration = time.Hour
	}
	if c.Violations.Threshold <= 0 {
		c.Violations.Threshold = 20
	}
	if c.Violations.Window <= 0 {
		c.Violations.Window = time.Hour
	}
	if c.Violations.BlockDuration <= 0 {
		c.Violations.BlockDuration = 6 * time.Hour
	}
	if c.Global == (ratelimit.Config{}) {
		c.Global = DefaultGlobal()
	}
	if c.Sweeps.Adjustments == "" {
		c.Sweeps.Adjustments = "@every 1m"
	}
	if c.Sweeps.Flood == "" {
		c.Sweeps.Flood = "@every 5m"
	}
	if c.Sweeps.LocalBuckets == "" {
		c.Sweeps.LocalBuckets = "@every 10m"
	}
	if c.Sweeps.Blocks == "" {
		c.Sweeps.Blocks = "@every 5m"
	}
	if c.Sweeps.QuotaDaily == "" {
		c.Sweeps.QuotaDaily = "0 0 * * *"
	}
	if c.Sweeps.QuotaMonthly == "" {
		c.Sweeps.QuotaMonthly = "0 0 1 * *"
	}
	if c.Sweeps.QuotaSnapshot == "" {
		c.Sweeps.QuotaSnapshot = "@every 1m"
	}
	if c.Sweeps.FloodMaxAge <= 0 {
		c.Sweeps.FloodMaxAge = 10 * time.Minute
	}
	if c.Sweeps.LocalMaxAge <= 0 {
		c.Sweeps.LocalMaxAge = 10 * time.Minute
	}
	if c.Sweeps.Location == nil {
		c.Sweeps.Location = time.Local
	}
	if c.Alerts.Interval <= 0 {
		c.Alerts.Interval = time.Second
	}
	if c.Alerts.Burst <= 0 {
		c.Alerts.Burst = 10
	}
	if c.Alerts.Timeout <= 0 {
		c.Alerts.Timeout = 2 * time.Second
	}
}

func (c *Config) validate() error {
	if err := c.Global.Validate(); err != nil {
		return fmt.Errorf("global: %w", err)
	}
	for op, cfg := range c.GlobalOverrides {
		if err := ValidateOperation(op); err != nil {
			return fmt.Errorf("global override: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("global override %q: %w", op, err)
		}
	}
	return nil
}
