package limits

import (
	"fmt"
	"maps"
	"regexp"
	"sync/atomic"
	"time"

	"mercator-hq/turnstile/pkg/limits/ratelimit"
)

// FallbackOperation is the table entry used for operations with no entry
// of their own.
const FallbackOperation = "api.general"

const maxOperationLength = 128

var operationPattern = regexp.MustCompile(`^[a-z0-9_.-]+$`)

// ValidateOperation checks an operation name.
func ValidateOperation(op string) error {
	switch {
	case op == "":
		return validationError(op, "operation is required")
	case len(op) > maxOperationLength:
		return validationError(op, "operation name exceeds %d characters", maxOperationLength)
	case !operationPattern.MatchString(op):
		return validationError(op, "operation name must match [a-z0-9_.-]")
	}
	return nil
}

func opConfig(long int64, longPeriod time.Duration, short int64, shortPeriod time.Duration, burst int64) ratelimit.Config {
	return ratelimit.Config{
		LongTermLimit:   long,
		LongTermPeriod:  longPeriod,
		ShortTermLimit:  short,
		ShortTermPeriod: shortPeriod,
		Burst:           burst,
	}
}

// DefaultOperations returns the built-in operation table.
func DefaultOperations() map[string]ratelimit.Config {
	const day = 24 * time.Hour
	return map[string]ratelimit.Config{
		"payment.transfer":       opConfig(10, time.Hour, 3, time.Minute, 5),
		"payment.withdraw":       opConfig(5, time.Hour, 2, time.Minute, 3),
		"payment.deposit":        opConfig(20, time.Hour, 5, time.Minute, 10),
		"international.transfer": opConfig(5, day, 2, time.Hour, 3),
		"crypto.exchange":        opConfig(20, time.Hour, 5, time.Minute, 10),
		"crypto.withdraw":        opConfig(10, time.Hour, 3, time.Minute, 5),
		"card.create":            opConfig(3, day, 1, time.Hour, 2),
		"card.activate":          opConfig(5, day, 2, time.Hour, 3),
		"card.block":             opConfig(10, day, 3, time.Hour, 5),
		"card.transaction":       opConfig(100, time.Hour, 20, time.Minute, 50),
		"auth.login":             opConfig(5, 15*time.Minute, 3, time.Minute, 2),
		"auth.password_reset":    opConfig(3, time.Hour, 1, 10*time.Minute, 2),
		"auth.otp_request":       opConfig(5, 15*time.Minute, 2, time.Minute, 3),
		"auth.2fa_verify":        opConfig(10, 15*time.Minute, 5, time.Minute, 5),
		"account.balance":        opConfig(100, time.Minute, 20, 10*time.Second, 50),
		"account.statement":      opConfig(20, time.Hour, 5, time.Minute, 10),
		"account.create":         opConfig(5, day, 1, time.Hour, 3),
		"user.profile.view":      opConfig(100, time.Minute, 20, 10*time.Second, 50),
		"user.profile.update":    opConfig(10, time.Hour, 3, time.Minute, 5),
		"kyc.submit":             opConfig(5, day, 2, time.Hour, 3),
		"kyc.document_upload":    opConfig(10, day, 3, time.Hour, 5),
		"report.generate":        opConfig(20, time.Hour, 5, time.Minute, 10),
		"analytics.query":        opConfig(50, time.Hour, 10, time.Minute, 25),
		FallbackOperation:        opConfig(1000, time.Minute, 100, time.Second, 500),
		"api.public":             opConfig(60, time.Minute, 10, time.Second, 30),
	}
}

// DefaultGlobal is the system-wide ceiling applied to every operation.
func DefaultGlobal() ratelimit.Config {
	return opConfig(100000, time.Minute, 10000, time.Second, 50000)
}

// OperationTable maps operation names to base limits.
//
// Reads are lock-free; Replace swaps the whole table atomically so that a
// reload is never observed half-applied.
type OperationTable struct {
	table atomic.Pointer[map[string]ratelimit.Config]
}

// NewOperationTable builds a table from the defaults merged with overrides.
func NewOperationTable(overrides map[string]ratelimit.Config) (*OperationTable, error) {
	t := &OperationTable{}
	if err := t.Replace(overrides); err != nil {
		return nil, err
	}
	return t, nil
}

// Replace rebuilds the table from the defaults merged with overrides.
func (t *OperationTable) Replace(overrides map[string]ratelimit.Config) error {
	next := DefaultOperations()
	for op, cfg := range overrides {
		if err := ValidateOperation(op); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("operation %q: %w", op, err)
		}
		next[op] = cfg
	}
	t.table.Store(&next)
	return nil
}

// Resolve returns the base config for op. The second result is false when
// op has no entry and the fallback entry was returned.
func (t *OperationTable) Resolve(op string) (ratelimit.Config, bool) {
	table := *t.table.Load()
	if cfg, ok := table[op]; ok {
		return cfg, true
	}
	return table[FallbackOperation], false
}

// Snapshot copies the current table.
func (t *OperationTable) Snapshot() map[string]ratelimit.Config {
	return maps.Clone(*t.table.Load())
}

// Len returns the number of entries.
func (t *OperationTable) Len() int {
	return len(*t.table.Load())
}
