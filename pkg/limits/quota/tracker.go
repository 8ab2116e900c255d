package quota

import (
	"sync"
	"time"

	"mercator-hq/turnstile/pkg/limits/ratelimit"
	"mercator-hq/turnstile/pkg/limits/tiers"
)

// Key builds the quota key for a client and API key.
func Key(clientID, apiKey string) string {
	return clientID + ":" + apiKey
}

// UserKey builds the quota key charged by admission checks.
func UserKey(userID string) string {
	return Key(userID, "main")
}

// Tracker counts daily and monthly usage per client key.
//
// Limits come from the caller's tier and are refreshed on every access, so
// a client that changes tier is measured against the new allowance at once.
// Counters only ever reset through ResetDaily and ResetMonthly, which the
// engine schedules at local midnight and on the first of the month.
type Tracker struct {
	tiers *tiers.Registry
	clock ratelimit.Clock

	mu     sync.RWMutex
	quotas map[string]*entry
}

type entry struct {
	mu sync.Mutex
	q  Quota
}

// NewTracker creates a Tracker drawing limits from registry.
func NewTracker(registry *tiers.Registry, clock ratelimit.Clock) *Tracker {
	if clock == nil {
		clock = ratelimit.SystemClock()
	}
	return &Tracker{
		tiers:  registry,
		clock:  clock,
		quotas: make(map[string]*entry),
	}
}

// Check reports whether key may make one more request under tier's quotas
// and, if so, counts it. The daily quota is checked before the monthly one.
func (t *Tracker) Check(key string, tier tiers.Tier) Status {
	e := t.entry(key)
	daily, monthly := t.limits(tier)

	e.mu.Lock()
	e.q.DailyLimit, e.q.MonthlyLimit = daily, monthly
	reason := ReasonWithinLimits
	allowed := true
	switch {
	case e.q.DailyUsed >= e.q.DailyLimit:
		allowed, reason = false, ReasonDailyExceeded
	case e.q.MonthlyUsed >= e.q.MonthlyLimit:
		allowed, reason = false, ReasonMonthlyExceeded
	default:
		e.q.DailyUsed++
		e.q.MonthlyUsed++
	}
	q := e.q
	e.mu.Unlock()

	return t.status(allowed, reason, q)
}

// Increment counts one request for key without checking it.
func (t *Tracker) Increment(key string, tier tiers.Tier) Quota {
	e := t.entry(key)
	daily, monthly := t.limits(tier)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.q.DailyLimit, e.q.MonthlyLimit = daily, monthly
	e.q.DailyUsed++
	e.q.MonthlyUsed++
	return e.q
}

// Get returns the current quota for key.
func (t *Tracker) Get(key string) (Quota, bool) {
	t.mu.RLock()
	e, ok := t.quotas[key]
	t.mu.RUnlock()
	if !ok {
		return Quota{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.q, true
}

// ResetDaily zeroes daily usage for every key and returns how many keys
// were reset.
func (t *Tracker) ResetDaily() int {
	return t.each(func(q *Quota) { q.DailyUsed = 0 })
}

// ResetMonthly zeroes monthly and daily usage for every key and returns how
// many keys were reset.
func (t *Tracker) ResetMonthly() int {
	return t.each(func(q *Quota) {
		q.DailyUsed = 0
		q.MonthlyUsed = 0
	})
}

// Snapshot copies every quota.
func (t *Tracker) Snapshot() map[string]Quota {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Quota, len(t.quotas))
	for key, e := range t.quotas {
		e.mu.Lock()
		out[key] = e.q
		e.mu.Unlock()
	}
	return out
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.quotas)
}

func (t *Tracker) entry(key string) *entry {
	t.mu.RLock()
	e, ok := t.quotas[key]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.quotas[key]; !ok {
		e = &entry{}
		t.quotas[key] = e
	}
	return e
}

func (t *Tracker) each(fn func(q *Quota)) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.quotas {
		e.mu.Lock()
		fn(&e.q)
		e.mu.Unlock()
	}
	return len(t.quotas)
}

func (t *Tracker) limits(tier tiers.Tier) (daily, monthly int64) {
	cfg, err := t.tiers.Get(tier)
	if err != nil {
		cfg, _ = t.tiers.Get(tiers.Basic)
	}
	return cfg.RequestsPerDay, cfg.RequestsPerMonth
}

func (t *Tracker) status(allowed bool, reason string, q Quota) Status {
	now := t.clock.Now()
	y, m, d := now.Date()
	return Status{
		Allowed:          allowed,
		Reason:           reason,
		Quota:            q,
		DailyRemaining:   max(q.DailyLimit-q.DailyUsed, 0),
		MonthlyRemaining: max(q.MonthlyLimit-q.MonthlyUsed, 0),
		Reset:            time.Date(y, m, d+1, 0, 0, 0, 0, now.Location()),
	}
}
