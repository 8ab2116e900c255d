package limits

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the engine's background sweeps on cron schedules.
//
// Every sweep only reclaims memory or resets counters on their calendar
// boundary; expiry is always checked on read, so a late or skipped sweep
// never changes an admission decision.
type Scheduler struct {
	engine *Engine
	cfg    SweepConfig
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	running bool
}

func newScheduler(e *Engine, cfg SweepConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		engine: e,
		cfg:    cfg,
		logger: logger.With("component", "limits.scheduler"),
	}
}

// newCron builds a fresh runner; a stopped cron.Cron keeps its entries, so
// every Start gets its own.
func (s *Scheduler) newCron() *cron.Cron {
	return cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithChain(cron.Recover(cronLogger{s.logger})),
	)
}

type sweep struct {
	name     string
	schedule string
	run      func(ctx context.Context) (int, error)
}

func (s *Scheduler) sweeps() []sweep {
	e := s.engine
	list := []sweep{
		{"adjustments", s.cfg.Adjustments, func(context.Context) (int, error) {
			return e.adjustments.Sweep(), nil
		}},
		{"flood", s.cfg.Flood, func(context.Context) (int, error) {
			return e.flood.Cleanup(s.cfg.FloodMaxAge), nil
		}},
		{"local", s.cfg.LocalBuckets, func(context.Context) (int, error) {
			return e.local.Cleanup(s.cfg.LocalMaxAge) + e.localViol.Purge(), nil
		}},
		{"blocks", s.cfg.Blocks, func(context.Context) (int, error) {
			return e.blocks.Purge(), nil
		}},
		{"quota_daily", s.cfg.QuotaDaily, func(context.Context) (int, error) {
			return e.quotas.ResetDaily(), nil
		}},
		{"quota_monthly", s.cfg.QuotaMonthly, func(context.Context) (int, error) {
			return e.quotas.ResetMonthly(), nil
		}},
	}
	if e.shared != nil {
		list = append(list, sweep{"quota_snapshot", s.cfg.QuotaSnapshot, func(ctx context.Context) (int, error) {
			return e.shared.saveQuotas(ctx, e.quotas.Snapshot(), e.clock.Now())
		}})
	}
	return list
}

// Start registers every sweep on a new cron runner and starts it. It stops
// when ctx is cancelled. Start after Stop schedules each sweep once again.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	c := s.newCron()
	for _, sw := range s.sweeps() {
		if sw.schedule == "-" {
			s.logger.Info("sweep disabled", "sweep", sw.name)
			continue
		}
		if _, err := cron.ParseStandard(sw.schedule); err != nil {
			return fmt.Errorf("invalid cron schedule %q for %s sweep: %w", sw.schedule, sw.name, err)
		}
		if _, err := c.AddFunc(sw.schedule, func() { s.run(ctx, sw) }); err != nil {
			return fmt.Errorf("failed to schedule %s sweep: %w", sw.name, err)
		}
	}

	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("sweeps started", "entries", len(c.Entries()))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		// A later Start owns a different runner.
		if s.cron == c {
			s.stopLocked()
		}
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context, sw sweep) {
	removed, err := sw.run(ctx)
	if err != nil {
		s.logger.Warn("sweep failed", "sweep", sw.name, "processed", removed, "error", err)
		return
	}
	s.engine.metrics.RecordSweep(sw.name, removed)
	if removed > 0 {
		s.logger.Debug("sweep completed", "sweep", sw.name, "processed", removed)
	}
}

// RunAll runs every sweep once, in order.
func (s *Scheduler) RunAll(ctx context.Context) {
	for _, sw := range s.sweeps() {
		s.run(ctx, sw)
	}
}

// Stop stops the runner and waits for running sweeps to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("sweeps stopped")
	}
}

// Running reports whether the runner is started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
