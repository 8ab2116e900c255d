package limits

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/turnstile/pkg/limits/enforcement"
	"mercator-hq/turnstile/pkg/limits/quota"
	"mercator-hq/turnstile/pkg/limits/tiers"
)

func findSweep(s *Scheduler, name string) (sweep, bool) {
	for _, sw := range s.sweeps() {
		if sw.name == name {
			return sw, true
		}
	}
	return sweep{}, false
}

// ===== Scheduler Tests =====

func TestScheduler_RunAll(t *testing.T) {
	e, clock := newTestEngine(t, nil)
	ctx := context.Background()

	e.CheckAdmission(ctx, Identity{UserID: "u1", Address: "192.0.2.1"}, "account.balance", tiers.Basic)
	_, _ = e.ApplyAdjustment("u1", "auth.login", 2, time.Minute)
	_, _ = e.Block(ctx, "u2", time.Minute, enforcement.ReasonManual)

	clock.Advance(11 * time.Minute)
	e.Scheduler().RunAll(ctx)

	if n := e.adjustments.Len(); n != 0 {
		t.Errorf("Expected expired adjustment swept, %d left", n)
	}
	if n := e.blocks.Len(); n != 0 {
		t.Errorf("Expected expired block purged, %d left", n)
	}
	if n := e.flood.Len(); n != 0 {
		t.Errorf("Expected idle flood tracker dropped, %d left", n)
	}
	if q, _ := e.quotas.Get(quota.UserKey("u1")); q.DailyUsed != 0 || q.MonthlyUsed != 0 {
		t.Errorf("Expected quota counters reset, got %+v", q)
	}

	for _, name := range []string{"adjustments", "blocks", "flood"} {
		if got := testutil.ToFloat64(e.metrics.sweeps.WithLabelValues(name)); got != 1 {
			t.Errorf("Expected %s sweep to record 1 removal, got %v", name, got)
		}
	}
}

func TestScheduler_LocalOnlyHasNoSnapshot(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	if _, ok := findSweep(e.Scheduler(), "quota_snapshot"); ok {
		t.Error("Expected no quota snapshot sweep in local mode")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	e, _ := newTestEngine(t, func(c *Config) { c.Sweeps.QuotaMonthly = "-" })

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s := e.Scheduler()
	if !s.Running() {
		t.Fatal("Expected scheduler running")
	}
	// Starting twice is a no-op.
	if err := s.Start(context.Background()); err != nil {
		t.Errorf("Expected second start to be a no-op, got %v", err)
	}
	if got := len(s.cron.Entries()); got != 5 {
		t.Errorf("Expected 5 scheduled sweeps, got %d", got)
	}

	s.Stop()
	if s.Running() {
		t.Error("Expected scheduler stopped")
	}
}

func TestScheduler_Restart(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	s := e.Scheduler()
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first := len(s.cron.Entries())
	s.Stop()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	defer s.Stop()
	if got := len(s.cron.Entries()); got != first {
		t.Errorf("Expected %d scheduled sweeps after restart, got %d", first, got)
	}
}

func TestScheduler_OldContextKeepsRestartedRunner(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	s := e.Scheduler()
	first, cancel := context.WithCancel(context.Background())

	if err := s.Start(first); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s.Stop()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	defer s.Stop()

	cancel()
	time.Sleep(50 * time.Millisecond)
	if !s.Running() {
		t.Error("Expected cancelling the first context to leave the restarted runner alone")
	}
}

func TestScheduler_SweepsKeepLongWindows(t *testing.T) {
	e, clock := newTestEngine(t, func(c *Config) {
		c.Flood.Threshold = 3
		c.Flood.Window = 30 * time.Minute
	})
	ctx := context.Background()

	if r := e.CheckSlidingWindow(ctx, "export:u-1", 60, 1); !r.Allowed {
		t.Fatalf("Expected first sliding-window request allowed, got %+v", r)
	}
	id := Identity{Address: "192.0.2.50"}
	for i := 0; i < 3; i++ {
		e.CheckAdmission(ctx, id, "account.balance", tiers.Basic)
	}

	clock.Advance(11 * time.Minute)
	e.Scheduler().RunAll(ctx)

	if r := e.CheckSlidingWindow(ctx, "export:u-1", 60, 1); r.Allowed {
		t.Error("Expected the hour-long window to survive the local sweep")
	}
	r := e.CheckAdmission(ctx, id, "account.balance", tiers.Basic)
	if r.Allowed || r.Dimension != DimensionFlood {
		t.Errorf("Expected the fourth request within 30m to be a flood, got allowed=%v dimension=%q", r.Allowed, r.Dimension)
	}
}

func TestScheduler_StopsWithContext(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for e.Scheduler().Running() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if e.Scheduler().Running() {
		t.Error("Expected scheduler to stop when its context is cancelled")
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	e, _ := newTestEngine(t, func(c *Config) { c.Sweeps.Blocks = "every five minutes" })

	if err := e.Start(context.Background()); err == nil {
		t.Error("Expected invalid cron schedule to fail Start")
	}
	if e.Scheduler().Running() {
		t.Error("Expected scheduler not running after a failed start")
	}
}
