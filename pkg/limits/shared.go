package limits

import (
	"context"
	"time"

	"mercator-hq/turnstile/pkg/limits/quota"
	"mercator-hq/turnstile/pkg/limits/storage"
)

// guardedRedis routes the auxiliary Redis writes (block mirrors, violation
// counters, quota snapshots) through the same breaker as bucket calls, so a
// dead Redis costs them nothing once the breaker is open.
type guardedRedis struct {
	guard storage.Guard
	store *storage.RedisStore
}

func (g *guardedRedis) MirrorBlock(ctx context.Context, key, reason string, ttl time.Duration) error {
	return g.guard.Execute(ctx, func(ctx context.Context) error {
		return g.store.MirrorBlock(ctx, key, reason, ttl)
	})
}

func (g *guardedRedis) RemoveBlock(ctx context.Context, key string) error {
	return g.guard.Execute(ctx, func(ctx context.Context) error {
		return g.store.RemoveBlock(ctx, key)
	})
}

func (g *guardedRedis) IncrementViolations(ctx context.Context, id string, window time.Duration) (int64, error) {
	var n int64
	err := g.guard.Execute(ctx, func(ctx context.Context) error {
		var err error
		n, err = g.store.IncrementViolations(ctx, id, window)
		return err
	})
	return n, err
}

// saveQuotas mirrors every quota snapshot and returns how many were written.
func (g *guardedRedis) saveQuotas(ctx context.Context, snapshot map[string]quota.Quota, now time.Time) (int, error) {
	saved := 0
	for key, q := range snapshot {
		err := g.guard.Execute(ctx, func(ctx context.Context) error {
			return g.store.SaveQuota(ctx, key, q.Fields(now))
		})
		if err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}
