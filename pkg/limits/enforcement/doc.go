// Package enforcement holds the fail-closed gates that run before any
// bucket is consulted: the whitelist, the block registry and the
// violation counters that escalate repeat offenders to a block.
//
// # Usage
//
//	registry := enforcement.NewRegistry(enforcement.RegistryConfig{})
//	registry.Block(ctx, "203.0.113.7", time.Hour, enforcement.ReasonFlood)
//
//	if entity, ok := registry.IsBlocked("203.0.113.7"); ok {
//	    // deny until entity.ExpiresAt
//	}
//
// Identifiers are keyed by BlockKey, so "203.0.113.7" is stored as
// "ip:203.0.113.7" and "u-42" as "user:u-42". Tenants go through
// BlockTenant and IsTenantBlocked and live under "tenant:<id>".
//
// # Thread Safety
//
// Registry, Whitelist and both violation counters are safe for concurrent use.
package enforcement
