package subscription

import (
	"time"

	"github.com/malipo-ke/malipo/plan"
)

// TrialPeriod is how long a free trial runs before the sweeper expires it
const TrialPeriod = 7 * 24 * time.Hour

// ComputeExpiry returns when an activation starting at now runs out: seven
// days for a trial, one calendar month for a paid plan. Month arithmetic
// clamps instead of overflowing, so Jan 31 renews to the last day of February
// rather than spilling into March.
func ComputeExpiry(p plan.Plan, now time.Time) time.Time {
	if p == plan.Trial {
		return now.Add(TrialPeriod)
	}
	return addOneMonth(now)
}

func addOneMonth(t time.Time) time.Time {
	candidate := t.AddDate(0, 1, 0)
	if candidate.Day() == t.Day() {
		return candidate
	}
	// AddDate normalized past the end of the target month; clamp to its last day
	y, m, _ := t.Date()
	h, min, sec := t.Clock()
	return time.Date(y, m+2, 0, h, min, sec, t.Nanosecond(), t.Location())
}
