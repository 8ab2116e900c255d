package limits

import (
	"context"
	"fmt"
	"time"

	"mercator-hq/turnstile/pkg/limits/breaker"
	"mercator-hq/turnstile/pkg/limits/enforcement"
	"mercator-hq/turnstile/pkg/limits/ratelimit"
	"mercator-hq/turnstile/pkg/limits/storage"
	"mercator-hq/turnstile/pkg/limits/tiers"
)

// AddToWhitelist exempts a user or address from every check.
func (e *Engine) AddToWhitelist(kind enforcement.Kind, value string) error {
	if value == "" {
		return validationError("whitelist", "value is required")
	}
	if err := e.whitelist.Add(kind, value); err != nil {
		return &AdmissionError{Kind: ErrValidation, Op: "whitelist", Err: err}
	}
	e.logger.Info("added to whitelist", "kind", string(kind), "value", value)
	return nil
}

// RemoveFromWhitelist removes a whitelist entry. Removing an absent entry
// is not an error.
func (e *Engine) RemoveFromWhitelist(kind enforcement.Kind, value string) error {
	if err := e.whitelist.Remove(kind, value); err != nil {
		return &AdmissionError{Kind: ErrValidation, Op: "whitelist", Err: err}
	}
	e.logger.Info("removed from whitelist", "kind", string(kind), "value", value)
	return nil
}

// ReplaceWhitelist swaps the whitelist for the given seeds. Used on
// configuration reload.
func (e *Engine) ReplaceWhitelist(cfg WhitelistConfig) error {
	return e.seedWhitelist(cfg)
}

func (e *Engine) seedWhitelist(cfg WhitelistConfig) error {
	if err := e.whitelist.Replace(enforcement.KindUser, cfg.Users); err != nil {
		return err
	}
	return e.whitelist.Replace(enforcement.KindAddress, cfg.Addresses)
}

// Block denies every request from a user or address for d.
func (e *Engine) Block(ctx context.Context, identifier string, d time.Duration, reason enforcement.Reason) (enforcement.BlockedEntity, error) {
	return e.manualBlock(ctx, identifier, d, reason, e.blocks.Block)
}

// BlockTenant denies every request carrying tenant for d. Tenant blocks
// never match a user or address of the same name.
func (e *Engine) BlockTenant(ctx context.Context, tenant string, d time.Duration, reason enforcement.Reason) (enforcement.BlockedEntity, error) {
	return e.manualBlock(ctx, tenant, d, reason, e.blocks.BlockTenant)
}

type blockFunc func(ctx context.Context, identifier string, d time.Duration, reason enforcement.Reason) enforcement.BlockedEntity

func (e *Engine) manualBlock(ctx context.Context, identifier string, d time.Duration, reason enforcement.Reason, block blockFunc) (enforcement.BlockedEntity, error) {
	if identifier == "" {
		return enforcement.BlockedEntity{}, validationError("block", "identifier is required")
	}
	if d <= 0 {
		return enforcement.BlockedEntity{}, validationError("block", "duration must be positive, got %s", d)
	}
	if reason == "" {
		reason = enforcement.ReasonManual
	}

	entity := block(ctx, identifier, d, reason)
	e.blocked(ctx, entity, EventManualBlock, nil)
	return entity, nil
}

// Unblock lifts any block on a user or address. It is idempotent and
// reports whether a block was lifted.
func (e *Engine) Unblock(ctx context.Context, identifier string) bool {
	return e.blocks.Unblock(ctx, identifier)
}

// UnblockTenant lifts any block on tenant, with the same semantics as
// Unblock.
func (e *Engine) UnblockTenant(ctx context.Context, tenant string) bool {
	return e.blocks.UnblockTenant(ctx, tenant)
}

// BlockedEntities lists active blocks.
func (e *Engine) BlockedEntities() []enforcement.BlockedEntity {
	return e.blocks.List()
}

// ApplyAdjustment scales userID's limits for operation by multiplier for d.
// A later adjustment for the same pair replaces this one.
func (e *Engine) ApplyAdjustment(userID, operation string, multiplier float64, d time.Duration) (tiers.Adjustment, error) {
	if userID == "" {
		return tiers.Adjustment{}, validationError(operation, "user id is required")
	}
	if err := ValidateOperation(operation); err != nil {
		return tiers.Adjustment{}, err
	}
	if multiplier <= 0 {
		return tiers.Adjustment{}, validationError(operation, "multiplier must be positive, got %v", multiplier)
	}
	if d <= 0 {
		return tiers.Adjustment{}, validationError(operation, "duration must be positive, got %s", d)
	}

	adj := e.adjustments.Apply(userID, operation, multiplier, d)
	e.logger.Info("applied limit adjustment",
		"user", userID, "operation", operation, "multiplier", multiplier, "expires_at", adj.ExpiresAt)
	return adj, nil
}

// ResetLimit deletes userID's user, progressive and cost buckets for
// operation in every store.
func (e *Engine) ResetLimit(ctx context.Context, userID, operation string) error {
	if userID == "" {
		return validationError(operation, "user id is required")
	}
	if err := ValidateOperation(operation); err != nil {
		return err
	}

	keys := []string{
		storage.BucketKey(DimensionUser.keyName(), userID, operation),
		storage.BucketKey(DimensionProgressive.keyName(), userID, operation),
		storage.BucketKey(DimensionCost.keyName(), userID, operation),
	}
	if err := e.store.Delete(ctx, keys...); err != nil {
		return &AdmissionError{Kind: ErrStoreUnavailable, Op: operation, Err: err}
	}
	e.logger.Info("reset rate limit", "user", userID, "operation", operation)
	return nil
}

// ReloadOperations replaces the operation table overrides.
func (e *Engine) ReloadOperations(overrides map[string]ratelimit.Config) error {
	if err := e.operations.Replace(overrides); err != nil {
		return fmt.Errorf("reload operations: %w", err)
	}
	e.logger.Info("operation table reloaded", "operations", e.operations.Len())
	return nil
}

// Operations returns a copy of the operation table.
func (e *Engine) Operations() map[string]ratelimit.Config {
	return e.operations.Snapshot()
}

// Tiers returns the tier registry.
func (e *Engine) Tiers() *tiers.Registry {
	return e.tiers
}

// Statistics returns a snapshot of engine state.
func (e *Engine) Statistics() Statistics {
	users, addresses := e.whitelist.Counts()
	stats := Statistics{
		Mode:                 "local",
		BreakerState:         "disabled",
		LocalBuckets:         e.local.Len(),
		WhitelistedUsers:     users,
		WhitelistedAddresses: addresses,
		BlockedEntities:      e.blocks.Len(),
		ActiveQuotas:         e.quotas.Len(),
		Adjustments:          e.adjustments.Len(),
		FloodTrackers:        e.flood.Len(),
		Operations:           e.operations.Len(),
	}
	if e.remote != nil {
		state := e.breaker.State()
		stats.Mode = "distributed"
		stats.BreakerState = state.String()
		stats.Degraded = state != breaker.StateClosed
		stats.DistributedBuckets = e.remote.Len()
	}
	return stats
}

// Ping checks the shared store. It returns nil in local mode.
func (e *Engine) Ping(ctx context.Context) error {
	if e.remote == nil {
		return nil
	}
	return e.remote.Ping(ctx)
}

// BreakerState returns the availability guard state, or "disabled" in
// local mode.
func (e *Engine) BreakerState() string {
	if e.breaker == nil {
		return "disabled"
	}
	return e.breaker.State().String()
}
