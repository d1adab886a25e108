package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the custom type to define the current state of a payment
type Status string

// A payment starts as pending and transitions exactly once into one of the
// terminal states. completed/failed are driven by confirmation events,
// cancelled by the stale-pending policy.
const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal returns true if no further transition is permitted out of this status
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Method is the custom type for how a payment was made
type Method string

// Defining the supported payment methods
const (
	MethodPush   Method = "push"   // asynchronous push via the mobile gateway
	MethodDirect Method = "direct" // synchronous capture with client-supplied proof
)

// Valid returns true if the method is one of the defined methods
func (m Method) Valid() bool {
	switch m {
	case MethodPush, MethodDirect:
		return true
	}
	return false
}

// Payment describes a single payment attempt against a customer. The local
// reference is assigned at creation; the external reference is bound once the
// gateway returns its own identifier, and confirmation events cite only the
// external one.
type Payment struct {
	ID                string    `json:"id" gorm:"primaryKey"`
	CustomerID        string    `json:"customerId" gorm:"index"`
	LocalReference    string    `json:"localReference" gorm:"uniqueIndex"`
	ExternalReference *string   `json:"externalReference" gorm:"uniqueIndex"`
	ReceiptID         string    `json:"receiptId"`
	AmountCents       int64     `json:"amountCents"`
	Method            Method    `json:"method"`
	Status            Status    `json:"status" gorm:"index"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Reference returns the identifier confirmation events and status reads cite:
// the external reference once bound, the local one before that
func (p *Payment) Reference() string {
	if p.ExternalReference != nil && len(*p.ExternalReference) > 0 {
		return *p.ExternalReference
	}
	return p.LocalReference
}

// NewLocalReference generates a collision resistant reference for a payment
// before the gateway has assigned its own: a millisecond timestamp prefix
// keeps references sortable, the random suffix keeps concurrent initiations
// from colliding.
func NewLocalReference() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("MLP%d%s", time.Now().UnixMilli(), suffix)
}
