package subscription

import (
	"time"

	"github.com/malipo-ke/malipo/plan"
)

// Subscription describes the entitlement a completed payment buys. It is
// upserted keyed by customer, so a customer holds at most one effective row;
// the activator overwrites plan, state and end date in place on renewal.
type Subscription struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	CustomerID string    `json:"customerId" gorm:"uniqueIndex"`
	Plan       plan.Plan `json:"plan"`
	State      State     `json:"state" gorm:"index"`
	StartDate  time.Time `json:"startDate"`
	EndDate    time.Time `json:"endDate"`
	AutoRenew  bool      `json:"autoRenew"`
}
