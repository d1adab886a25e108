package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/malipo-ke/malipo/plan"
)

func TestComputeExpiryTrial(t *testing.T) {
	now := time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)

	expiry := ComputeExpiry(plan.Trial, now)

	assert.Equal(t, now.Add(TrialPeriod), expiry)
	assert.Equal(t, 7*24*time.Hour, expiry.Sub(now))
}

func TestComputeExpiryPaidOneMonth(t *testing.T) {
	now := time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)

	expiry := ComputeExpiry(plan.Gamer, now)

	assert.Equal(t, time.Date(2024, 4, 10, 14, 30, 0, 0, time.UTC), expiry)
}

func TestComputeExpiryClampsToMonthEnd(t *testing.T) {
	cases := []struct {
		name     string
		start    time.Time
		expected time.Time
	}{
		{
			name:     "jan 31 into feb of a leap year",
			start:    time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC),
			expected: time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC),
		},
		{
			name:     "jan 31 into feb of a common year",
			start:    time.Date(2023, 1, 31, 9, 0, 0, 0, time.UTC),
			expected: time.Date(2023, 2, 28, 9, 0, 0, 0, time.UTC),
		},
		{
			name:     "oct 31 into nov",
			start:    time.Date(2024, 10, 31, 23, 59, 59, 0, time.UTC),
			expected: time.Date(2024, 11, 30, 23, 59, 59, 0, time.UTC),
		},
		{
			name:     "dec 31 carries into jan",
			start:    time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
			expected: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expected, ComputeExpiry(plan.Basic, c.start))
		})
	}
}

func TestComputeExpiryDeterministic(t *testing.T) {
	now := time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC)

	first := ComputeExpiry(plan.Venue, now)
	second := ComputeExpiry(plan.Venue, now)

	assert.Equal(t, first, second)
}
