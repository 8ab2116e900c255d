package enforcement

import (
	"fmt"
	"strings"
	"time"
)

// Reason records why an entity was blocked.
type Reason string

const (
	// ReasonManual is an operator block issued through the admin API.
	ReasonManual Reason = "manual"

	// ReasonFlood is an automatic block after a request flood.
	ReasonFlood Reason = "flood"

	// ReasonExcessiveViolations is an automatic block after repeated
	// rate limit violations.
	ReasonExcessiveViolations Reason = "excessive-violations"

	// ReasonFraud is a block requested by fraud screening.
	ReasonFraud Reason = "fraud"
)

// ParseReason converts s to a Reason. Unknown values map to ReasonManual.
func ParseReason(s string) Reason {
	switch r := Reason(strings.ToLower(strings.TrimSpace(s))); r {
	case ReasonFlood, ReasonExcessiveViolations, ReasonFraud:
		return r
	case "excessive_violations":
		return ReasonExcessiveViolations
	default:
		return ReasonManual
	}
}

// BlockedEntity is one active block.
type BlockedEntity struct {
	// Identifier is the user ID, client address or tenant that was blocked.
	Identifier string `json:"identifier"`

	// Key is the registry key derived from Identifier by BlockKey or
	// TenantBlockKey.
	Key string `json:"key"`

	// Reason is why the block was issued.
	Reason Reason `json:"reason"`

	// CreatedAt is when the block was issued.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the block stops applying.
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the block no longer applies at now.
func (b BlockedEntity) Expired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// Remaining returns how long the block still applies at now.
func (b BlockedEntity) Remaining(now time.Time) time.Duration {
	if d := b.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// BlockKey derives the registry key for a user or address identifier.
// Identifiers that look like network addresses (contain '.' or ':') are
// keyed "ip:<id>", everything else "user:<id>".
func BlockKey(identifier string) string {
	if strings.ContainsAny(identifier, ".:") {
		return "ip:" + identifier
	}
	return "user:" + identifier
}

// TenantBlockKey derives the registry key for a tenant. Tenants have their
// own namespace so a tenant never shares a block with a user of the same
// name.
func TenantBlockKey(tenant string) string {
	return "tenant:" + tenant
}

// Kind selects which whitelist set a value belongs to.
type Kind string

const (
	// KindUser whitelists a user ID.
	KindUser Kind = "user"

	// KindAddress whitelists a client address.
	KindAddress Kind = "address"
)

// ParseKind converts s to a Kind. "ip" is accepted as an alias for address.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return KindUser, nil
	case "address", "ip":
		return KindAddress, nil
	default:
		return "", &KindError{Value: s}
	}
}

// KindError reports an unknown whitelist kind.
type KindError struct {
	Value string
}

func (e *KindError) Error() string {
	return fmt.Sprintf("unknown whitelist kind %q (want user or address)", e.Value)
}
