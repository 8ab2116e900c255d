package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"mercator-hq/turnstile/pkg/cli"
	"mercator-hq/turnstile/pkg/config"
	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/limits/breaker"
	"mercator-hq/turnstile/pkg/limits/ratelimit"
	"mercator-hq/turnstile/pkg/limits/tiers"
	"mercator-hq/turnstile/pkg/telemetry"
)

// engineConfig converts the file configuration into an engine
// configuration.
func engineConfig(cfg *config.Config) (limits.Config, error) {
	lc := cfg.Limits

	loc, err := sweepLocation(lc.Sweeps.Timezone)
	if err != nil {
		return limits.Config{}, err
	}

	return limits.Config{
		Distributed: lc.Distributed,
		Redis: limits.RedisConfig{
			Addrs:       lc.Redis.Addresses,
			Password:    lc.Redis.Password,
			DB:          lc.Redis.DB,
			PoolSize:    lc.Redis.PoolSize,
			DialTimeout: lc.Redis.DialTimeout,
			KeyPrefix:   lc.Redis.KeyPrefix,
		},
		Breaker: breaker.Config{
			Name:                 "redis",
			FailureRateThreshold: lc.Breaker.FailureRateThreshold,
			SlidingWindowSize:    lc.Breaker.SlidingWindowSize,
			MinimumCalls:         lc.Breaker.MinimumCalls,
			WaitDuration:         lc.Breaker.WaitDuration,
			HalfOpenMaxCalls:     lc.Breaker.HalfOpenMaxCalls,
			SuccessThreshold:     lc.Breaker.SuccessThreshold,
			CallTimeout:          lc.Breaker.CallTimeout,
		},
		LocalCache: limits.LocalCacheConfig{
			MaxEntries: lc.LocalCache.MaxEntries,
			TTL:        lc.LocalCache.TTL,
		},
		Flood: limits.FloodConfig{
			Threshold:     lc.Flood.Threshold,
			Window:        lc.Flood.Window,
			BlockDuration: lc.Flood.BlockDuration,
		},
		Violations: limits.ViolationConfig{
			Threshold:     lc.Violations.Threshold,
			Window:        lc.Violations.Window,
			BlockDuration: lc.Violations.BlockDuration,
		},
		Global:          rateLimit(lc.Global),
		GlobalOverrides: rateLimits(lc.GlobalOverrides),
		Operations:      rateLimits(lc.Operations),
		Tiers:           tierConfigs(lc.Tiers),
		Whitelist:       whitelist(lc.Whitelist),
		QuotaTracking:   lc.Quota.Tracking,
		Sweeps: limits.SweepConfig{
			Adjustments:   lc.Sweeps.Adjustments,
			Flood:         lc.Sweeps.Flood,
			LocalBuckets:  lc.Sweeps.LocalBuckets,
			Blocks:        lc.Sweeps.Blocks,
			QuotaDaily:    lc.Sweeps.QuotaDaily,
			QuotaMonthly:  lc.Sweeps.QuotaMonthly,
			QuotaSnapshot: lc.Sweeps.QuotaSnapshot,
			Location:      loc,
		},
		Alerts: limits.AlertConfig{
			Interval: lc.Alerts.Interval,
			Burst:    lc.Alerts.Burst,
			Timeout:  lc.Alerts.Timeout,
		},
	}, nil
}

// sweepLocation resolves the quota reset time zone. "" and "Local" mean
// the host zone.
func sweepLocation(name string) (*time.Location, error) {
	if name == "" || name == config.DefaultSweepTimezone {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, cli.NewConfigError("limits.sweeps.timezone", fmt.Sprintf("unknown time zone %q", name))
	}
	return loc, nil
}

func rateLimit(c config.RateLimitConfig) ratelimit.Config {
	return ratelimit.Config{
		LongTermLimit:   c.LongTermLimit,
		LongTermPeriod:  c.LongTermPeriod,
		ShortTermLimit:  c.ShortTermLimit,
		ShortTermPeriod: c.ShortTermPeriod,
		Burst:           c.Burst,
	}
}

func rateLimits(in map[string]config.RateLimitConfig) map[string]ratelimit.Config {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]ratelimit.Config, len(in))
	for op, c := range in {
		out[op] = rateLimit(c)
	}
	return out
}

func tierConfigs(in map[string]config.TierConfig) map[string]tiers.Config {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]tiers.Config, len(in))
	for name, c := range in {
		out[name] = tiers.Config{
			Multiplier:        c.Multiplier,
			RequestsPerMinute: c.RequestsPerMinute,
			RequestsPerHour:   c.RequestsPerHour,
			RequestsPerDay:    c.RequestsPerDay,
			RequestsPerMonth:  c.RequestsPerMonth,
		}
	}
	return out
}

func whitelist(c config.WhitelistConfig) limits.WhitelistConfig {
	return limits.WhitelistConfig{Users: c.Users, Addresses: c.Addresses}
}

// newEngine builds an engine wired to the process telemetry. The returned
// function releases the alert connection and must be called after the
// engine is closed.
func newEngine(cfg *config.Config, tel *telemetry.Telemetry) (*limits.Engine, func(), error) {
	lcfg, err := engineConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	sink, closeSink, err := alertSink(cfg.Limits.Alerts, tel.Logger)
	if err != nil {
		return nil, nil, err
	}
	engine, err := limits.NewEngine(lcfg,
		limits.WithLogger(tel.Logger),
		limits.WithRegisterer(tel.Metrics.Registry()),
		limits.WithTracer(tel.Tracer.OTel()),
		limits.WithAlertSink(sink),
	)
	if err != nil {
		closeSink()
		return nil, nil, cli.WrapConfigError("failed to create admission engine", err)
	}
	return engine, closeSink, nil
}

// alertSink builds the security event sink: structured logs, plus NATS
// when a URL is configured.
func alertSink(cfg config.AlertsConfig, logger *slog.Logger) (limits.AlertSink, func(), error) {
	logSink := limits.NewLogSink(logger.With("component", "security"))
	if cfg.NATSURL == "" {
		return logSink, func() {}, nil
	}

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("turnstile"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, nil, cli.NewConfigError("limits.alerts.nats_url", err.Error())
	}
	logger.Info("publishing security events to NATS", "subject", cfg.Subject+".>")

	closeConn := func() {
		if err := nc.Drain(); err != nil {
			logger.Warn("failed to drain NATS connection", "error", err)
		}
	}
	return limits.MultiSink{logSink, limits.NewNATSSink(nc, cfg.Subject)}, closeConn, nil
}

// registerHealthChecks adds the engine's readiness checks. Redis is
// optional: while it is down admission is served locally.
func registerHealthChecks(tel *telemetry.Telemetry, engine *limits.Engine, distributed bool) {
	tel.Health.RegisterCheck("sweeps", func(context.Context) error {
		if !engine.Scheduler().Running() {
			return errors.New("sweep scheduler is not running")
		}
		return nil
	})
	if distributed {
		tel.Health.RegisterOptionalCheck("redis", engine.Ping)
	}
}

// reloadable is the part of the engine a configuration reload touches.
type reloadable interface {
	ReloadOperations(map[string]ratelimit.Config) error
	ReplaceWhitelist(limits.WhitelistConfig) error
}

// applyReload hot-applies the reloadable sections of cfg. Other sections
// take effect on restart.
func applyReload(engine reloadable, cfg *config.Config) error {
	if err := engine.ReloadOperations(rateLimits(cfg.Limits.Operations)); err != nil {
		return fmt.Errorf("failed to reload operations: %w", err)
	}
	if err := engine.ReplaceWhitelist(whitelist(cfg.Limits.Whitelist)); err != nil {
		return fmt.Errorf("failed to reload whitelist: %w", err)
	}
	return nil
}

// watchConfig hot-reloads path until ctx is cancelled.
func watchConfig(ctx context.Context, path string, engine reloadable, logger *slog.Logger) {
	watcher, err := config.NewWatcher(path, 0, logger)
	if err != nil {
		logger.Warn("config hot reload disabled", "error", err)
		return
	}
	defer watcher.Stop()

	err = watcher.Watch(ctx, func(cfg *config.Config) error {
		return applyReload(engine, cfg)
	})
	if err != nil {
		logger.Warn("config watcher exited", "error", err)
	}
}
