package subscription

// State is the custom type to define the current state of a subscription
type State string

// Defining different States for a Subscription
const (
	StateActive    State = "active"
	StateInactive  State = "inactive"
	StateCancelled State = "cancelled"
)
