package customer

import (
	"time"

	"github.com/malipo-ke/malipo/plan"
)

// Status is the custom type to define the current state of a customer
type Status string

// Defining different Status for a Customer
const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusTrial    Status = "trial"
	StatusExpired  Status = "expired"
)

// Customer describes a subscriber. It is the root entity: payments and
// subscriptions reference it and are removed with it by the storage layer.
type Customer struct {
	ID        string     `json:"id" gorm:"primaryKey"`
	Name      string     `json:"name"`
	Email     string     `json:"email" gorm:"uniqueIndex"`
	Phone     string     `json:"phone" gorm:"index"`
	Plan      plan.Plan  `json:"plan"`
	Status    Status     `json:"status" gorm:"index"`
	ExpiresAt *time.Time `json:"expiresAt"`
	CreatedAt time.Time  `json:"createdAt"`
}
