package tiers

import (
	"sync"
	"time"

	"mercator-hq/turnstile/pkg/limits/ratelimit"
)

// Adjustment temporarily scales one user's limits for one operation.
type Adjustment struct {
	UserID     string    `json:"user_id"`
	Operation  string    `json:"operation"`
	Multiplier float64   `json:"multiplier"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Active reports whether the adjustment still applies at now.
func (a Adjustment) Active(now time.Time) bool {
	return now.Before(a.ExpiresAt)
}

// Apply scales cfg's long limit, short limit and burst by the multiplier.
func (a Adjustment) Apply(cfg ratelimit.Config) ratelimit.Config {
	return cfg.Scale(a.Multiplier)
}

// Adjustments holds active adjustments keyed by user and operation.
//
// Expiry is checked on every Lookup, so an adjustment stops applying the
// moment it expires whether or not Sweep has run.
type Adjustments struct {
	clock ratelimit.Clock
	items sync.Map // "user:operation" -> Adjustment
}

// NewAdjustments creates an empty Adjustments store.
func NewAdjustments(clock ratelimit.Clock) *Adjustments {
	if clock == nil {
		clock = ratelimit.SystemClock()
	}
	return &Adjustments{clock: clock}
}

func adjustmentKey(userID, operation string) string {
	return userID + ":" + operation
}

// Apply stores an adjustment for d, overwriting any existing one for the
// same user and operation.
func (a *Adjustments) Apply(userID, operation string, multiplier float64, d time.Duration) Adjustment {
	adj := Adjustment{
		UserID:     userID,
		Operation:  operation,
		Multiplier: multiplier,
		ExpiresAt:  a.clock.Now().Add(d),
	}
	a.items.Store(adjustmentKey(userID, operation), adj)
	return adj
}

// Lookup returns the active adjustment for user and operation.
func (a *Adjustments) Lookup(userID, operation string) (Adjustment, bool) {
	if userID == "" {
		return Adjustment{}, false
	}
	v, ok := a.items.Load(adjustmentKey(userID, operation))
	if !ok {
		return Adjustment{}, false
	}
	adj := v.(Adjustment)
	if !adj.Active(a.clock.Now()) {
		return Adjustment{}, false
	}
	return adj, true
}

// Remove drops the adjustment for user and operation.
func (a *Adjustments) Remove(userID, operation string) {
	a.items.Delete(adjustmentKey(userID, operation))
}

// Sweep removes expired adjustments and returns how many were removed.
func (a *Adjustments) Sweep() int {
	now := a.clock.Now()
	removed := 0
	a.items.Range(func(k, v any) bool {
		if !v.(Adjustment).Active(now) && a.items.CompareAndDelete(k, v) {
			removed++
		}
		return true
	})
	return removed
}

// Len returns the number of stored adjustments, including expired ones not
// yet swept.
func (a *Adjustments) Len() int {
	n := 0
	a.items.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
