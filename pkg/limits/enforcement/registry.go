package enforcement

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/turnstile/pkg/limits/ratelimit"
)

// Mirror copies blocks to a shared store for operators and external
// tooling. Registries never read mirrored blocks back.
type Mirror interface {
	MirrorBlock(ctx context.Context, key, reason string, ttl time.Duration) error
	RemoveBlock(ctx context.Context, key string) error
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Clock supplies the current time. Default: ratelimit.SystemClock()
	Clock ratelimit.Clock

	// Mirror receives every block and unblock. Nil keeps blocks local.
	Mirror Mirror

	// MirrorTimeout bounds each mirror call.
	// Default: 250 milliseconds
	MirrorTimeout time.Duration

	// Logger receives block events and mirror failures.
	// Default: slog.Default()
	Logger *slog.Logger
}

// Registry holds temporary blocks keyed by BlockKey and TenantBlockKey.
//
// Expired blocks are removed lazily by IsBlocked and in bulk by Purge.
// The in-process map is authoritative for decisions; the optional Mirror
// is written best-effort and its failures are only logged.
type Registry struct {
	clock         ratelimit.Clock
	mirror        Mirror
	mirrorTimeout time.Duration
	logger        *slog.Logger

	blocks sync.Map // key -> BlockedEntity
	count  atomic.Int64
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.SystemClock()
	}
	if cfg.MirrorTimeout <= 0 {
		cfg.MirrorTimeout = 250 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "enforcement")
	}
	return &Registry{
		clock:         cfg.Clock,
		mirror:        cfg.Mirror,
		mirrorTimeout: cfg.MirrorTimeout,
		logger:        cfg.Logger,
	}
}

// Block blocks a user or address for d, replacing any existing block on
// the same key.
func (r *Registry) Block(ctx context.Context, identifier string, d time.Duration, reason Reason) BlockedEntity {
	return r.block(ctx, BlockKey(identifier), identifier, d, reason)
}

// BlockTenant blocks every request carrying tenant for d.
func (r *Registry) BlockTenant(ctx context.Context, tenant string, d time.Duration, reason Reason) BlockedEntity {
	return r.block(ctx, TenantBlockKey(tenant), tenant, d, reason)
}

func (r *Registry) block(ctx context.Context, key, identifier string, d time.Duration, reason Reason) BlockedEntity {
	now := r.clock.Now()
	entity := BlockedEntity{
		Identifier: identifier,
		Key:        key,
		Reason:     reason,
		CreatedAt:  now,
		ExpiresAt:  now.Add(d),
	}

	if _, loaded := r.blocks.Swap(entity.Key, entity); !loaded {
		r.count.Add(1)
	}

	r.logger.Warn("entity blocked",
		"key", entity.Key,
		"reason", string(reason),
		"duration", d,
		"expires_at", entity.ExpiresAt,
	)

	if r.mirror != nil {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.mirrorTimeout)
		defer cancel()
		if err := r.mirror.MirrorBlock(mctx, entity.Key, string(reason), d); err != nil {
			r.logger.Warn("failed to mirror block", "key", entity.Key, "error", err)
		}
	}
	return entity
}

// Unblock removes the block on a user or address. It reports whether a
// block was present; unblocking an identifier that is not blocked is not an
// error.
func (r *Registry) Unblock(ctx context.Context, identifier string) bool {
	return r.unblock(ctx, BlockKey(identifier))
}

// UnblockTenant removes the block on tenant, with the same semantics as
// Unblock.
func (r *Registry) UnblockTenant(ctx context.Context, tenant string) bool {
	return r.unblock(ctx, TenantBlockKey(tenant))
}

func (r *Registry) unblock(ctx context.Context, key string) bool {
	_, existed := r.blocks.LoadAndDelete(key)
	if existed {
		r.count.Add(-1)
		r.logger.Info("entity unblocked", "key", key)
	}

	if r.mirror != nil {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.mirrorTimeout)
		defer cancel()
		if err := r.mirror.RemoveBlock(mctx, key); err != nil {
			r.logger.Warn("failed to remove mirrored block", "key", key, "error", err)
		}
	}
	return existed
}

// IsBlocked returns the active block for a user or address, if any. An
// expired block found here is removed.
func (r *Registry) IsBlocked(identifier string) (BlockedEntity, bool) {
	if identifier == "" {
		return BlockedEntity{}, false
	}
	return r.lookup(BlockKey(identifier))
}

// IsTenantBlocked returns the active block for tenant, if any.
func (r *Registry) IsTenantBlocked(tenant string) (BlockedEntity, bool) {
	if tenant == "" {
		return BlockedEntity{}, false
	}
	return r.lookup(TenantBlockKey(tenant))
}

func (r *Registry) lookup(key string) (BlockedEntity, bool) {
	v, ok := r.blocks.Load(key)
	if !ok {
		return BlockedEntity{}, false
	}

	entity := v.(BlockedEntity)
	if entity.Expired(r.clock.Now()) {
		if r.blocks.CompareAndDelete(key, v) {
			r.count.Add(-1)
		}
		return BlockedEntity{}, false
	}
	return entity, true
}

// Purge removes every expired block and returns how many were removed.
func (r *Registry) Purge() int {
	now := r.clock.Now()
	removed := 0
	r.blocks.Range(func(k, v any) bool {
		if v.(BlockedEntity).Expired(now) && r.blocks.CompareAndDelete(k, v) {
			r.count.Add(-1)
			removed++
		}
		return true
	})
	return removed
}

// List returns the active blocks.
func (r *Registry) List() []BlockedEntity {
	now := r.clock.Now()
	var out []BlockedEntity
	r.blocks.Range(func(_, v any) bool {
		if e := v.(BlockedEntity); !e.Expired(now) {
			out = append(out, e)
		}
		return true
	})
	return out
}

// Len returns the number of stored blocks, including expired ones not yet
// purged.
func (r *Registry) Len() int {
	return int(r.count.Load())
}
