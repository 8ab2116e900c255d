// Package tiers holds the subscription tier table and the temporary
// per-user limit adjustments layered on top of it.
//
// A caller's effective configuration for an operation is the operation's
// base config scaled by its tier multiplier, then by any active
// Adjustment for that user and operation.
package tiers
