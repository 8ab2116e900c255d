package quota

import "time"

// Quota is the daily and monthly request allowance of one client key.
type Quota struct {
	DailyLimit   int64 `json:"daily_limit"`
	MonthlyLimit int64 `json:"monthly_limit"`
	DailyUsed    int64 `json:"daily_used"`
	MonthlyUsed  int64 `json:"monthly_used"`
}

// Fields returns the quota as a flat field map for hash storage.
func (q Quota) Fields(updatedAt time.Time) map[string]any {
	return map[string]any{
		"dailyLimit":   q.DailyLimit,
		"monthlyLimit": q.MonthlyLimit,
		"dailyUsed":    q.DailyUsed,
		"monthlyUsed":  q.MonthlyUsed,
		"lastUpdated":  updatedAt.UnixMilli(),
	}
}

// Status is the result of a quota check.
type Status struct {
	// Allowed indicates the request fit within both quotas.
	Allowed bool `json:"allowed"`

	// Reason explains the decision.
	Reason string `json:"reason"`

	// Quota is the usage after the check.
	Quota Quota `json:"quota"`

	// DailyRemaining is the number of requests left today.
	DailyRemaining int64 `json:"daily_remaining"`

	// MonthlyRemaining is the number of requests left this month.
	MonthlyRemaining int64 `json:"monthly_remaining"`

	// Reset is when the daily quota next resets.
	Reset time.Time `json:"reset"`
}

// Status reasons.
const (
	ReasonWithinLimits    = "within quota limits"
	ReasonDailyExceeded   = "daily quota limit exceeded"
	ReasonMonthlyExceeded = "monthly quota limit exceeded"
)
