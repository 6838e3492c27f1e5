// Package quota gates settlement throughput per payer: a fixed-window rate
// limit checked before verification, and a calendar-month transaction quota
// consumed only after a payment verifies.
package quota

import (
	"fmt"
	"time"
)

// Tier is one subscription level.
type Tier struct {
	Name               string
	RateLimitPerMinute int
	MonthlyTxLimit     int64 // -1 means unlimited
}

// Unlimited reports whether the tier has no monthly cap.
func (t Tier) Unlimited() bool {
	return t.MonthlyTxLimit == -1
}

// ExceededError reports an exhausted monthly quota. Carried to the HTTP
// boundary so clients see how much they used and when the window resets.
type ExceededError struct {
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	PeriodEnd time.Time `json:"periodEnd"`
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota: monthly limit exceeded (%d/%d, resets %s)",
		e.Used, e.Limit, e.PeriodEnd.Format(time.RFC3339))
}

// RateResult is the verdict of one rate-limit check.
type RateResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Period is one calendar-month quota window in UTC.
type Period struct {
	Start time.Time
	End   time.Time
}

// PeriodFor returns the calendar-month window containing t.
func PeriodFor(t time.Time) Period {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}
