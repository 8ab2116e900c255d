package limits

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Dimension names the check that produced an admission decision.
type Dimension string

const (
	// DimensionUser limits one user's calls to one operation.
	DimensionUser Dimension = "user"

	// DimensionAddress limits one client address. Its key prefix is "ip".
	DimensionAddress Dimension = "address"

	// DimensionEndpoint limits all callers of one operation together.
	DimensionEndpoint Dimension = "endpoint"

	// DimensionTenant limits all callers within one tenant.
	DimensionTenant Dimension = "tenant"

	// DimensionGlobal is the system-wide ceiling per operation.
	DimensionGlobal Dimension = "global"

	// DimensionBlocked marks a denial by the block registry.
	DimensionBlocked Dimension = "blocked"

	// DimensionFlood marks a denial by the flood tracker.
	DimensionFlood Dimension = "flood"

	// DimensionSlidingWindow marks a sliding-window check.
	DimensionSlidingWindow Dimension = "sliding_window"

	// DimensionCost marks a cost-based check.
	DimensionCost Dimension = "cost"

	// DimensionProgressive marks a trust-level check.
	DimensionProgressive Dimension = "progressive"
)

// keyName is the dimension segment used in bucket keys.
func (d Dimension) keyName() string {
	if d == DimensionAddress {
		return "ip"
	}
	return string(d)
}

// Identity is the caller of an operation. At least one of UserID and
// Address must be set; Tenant is optional.
type Identity struct {
	UserID  string `json:"user_id,omitempty"`
	Address string `json:"address,omitempty"`
	Tenant  string `json:"tenant,omitempty"`
}

// Anonymous reports whether the identity carries no user.
func (i Identity) Anonymous() bool {
	return i.UserID == ""
}

// subject is the identifier violations are charged to.
func (i Identity) subject() string {
	if i.UserID != "" {
		return i.UserID
	}
	return i.Address
}

// Response metadata keys.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderPolicy     = "X-RateLimit-Policy"
	HeaderRetryAfter = "Retry-After"
)

// Unlimited is the Remaining and Limit reported for whitelisted callers.
const Unlimited int64 = math.MaxInt64

// AdmissionResult is the outcome of one admission check. It is built fresh
// for every check and is never mutated after being returned.
type AdmissionResult struct {
	// Allowed indicates the request may proceed.
	Allowed bool `json:"allowed"`

	// Remaining is the smallest number of tokens left across the
	// dimensions that were checked.
	Remaining int64 `json:"remaining"`

	// Limit is the long-term limit that applied to the caller.
	Limit int64 `json:"limit"`

	// RetryAfterSeconds is set on denials.
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`

	// Message explains a denial or a degraded admission.
	Message string `json:"message,omitempty"`

	// Dimension is the check that denied the request, if any.
	Dimension Dimension `json:"dimension,omitempty"`

	// Metadata holds the response headers to send to the caller.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Err is set when the decision came from a validation failure or a
	// fail-open error path.
	Err error `json:"-"`
}

// RetryAfter returns RetryAfterSeconds as a duration.
func (r AdmissionResult) RetryAfter() time.Duration {
	return time.Duration(r.RetryAfterSeconds) * time.Second
}

func buildMetadata(policy string, allowed bool, remaining, limit, retryAfter int64, now time.Time) map[string]string {
	reset := now.Add(time.Minute)
	if !allowed {
		reset = now.Add(time.Duration(retryAfter) * time.Second)
	}

	md := map[string]string{
		HeaderLimit:     strconv.FormatInt(limit, 10),
		HeaderRemaining: strconv.FormatInt(max(remaining, 0), 10),
		HeaderReset:     strconv.FormatInt(reset.Unix(), 10),
		HeaderPolicy:    policy,
	}
	if !allowed {
		md[HeaderRetryAfter] = strconv.FormatInt(retryAfter, 10)
	}
	return md
}

// Statistics is a point-in-time view of engine state.
type Statistics struct {
	// Mode is "distributed" when a shared store is configured, else "local".
	Mode string `json:"mode"`

	// BreakerState is the availability guard state.
	BreakerState string `json:"breaker_state"`

	// Degraded is true while shared-store calls are being served locally.
	Degraded bool `json:"degraded"`

	DistributedBuckets   int `json:"distributed_buckets"`
	LocalBuckets         int `json:"local_buckets"`
	WhitelistedUsers     int `json:"whitelisted_users"`
	WhitelistedAddresses int `json:"whitelisted_addresses"`
	BlockedEntities      int `json:"blocked_entities"`
	ActiveQuotas         int `json:"active_quotas"`
	Adjustments          int `json:"adjustments"`
	FloodTrackers        int `json:"flood_trackers"`
	Operations           int `json:"operations"`
}

// Error kinds.
var (
	// ErrConfigurationMissing is logged when an operation has no table entry
	// and the general fallback is used. NewEngine returns it when distributed
	// mode has no Redis addresses.
	ErrConfigurationMissing = errors.New("operation configuration missing")

	// ErrStoreUnavailable wraps shared-store, timeout and breaker errors.
	ErrStoreUnavailable = errors.New("bucket store unavailable")

	// ErrValidation marks malformed admission requests.
	ErrValidation = errors.New("invalid admission request")

	// ErrInternal marks unexpected failures.
	ErrInternal = errors.New("internal admission error")
)

// AdmissionError gives context to an admission failure.
type AdmissionError struct {
	// Kind is one of the Err* sentinels.
	Kind error

	// Op is the operation being checked.
	Op string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *AdmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *AdmissionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func validationError(op, format string, args ...any) *AdmissionError {
	return &AdmissionError{Kind: ErrValidation, Op: op, Err: fmt.Errorf(format, args...)}
}
