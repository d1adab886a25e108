// Package plan defines the purchasable plans shared by the customer,
// subscription and reconciliation packages.
package plan

// Plan is the custom type for the plan a customer subscribes to
type Plan string

// Defining the purchasable plans
const (
	Trial Plan = "trial"
	Basic Plan = "basic"
	Gamer Plan = "gamer"
	Venue Plan = "venue"
)

// Valid returns true if the plan is one of the defined plans
func (p Plan) Valid() bool {
	switch p {
	case Trial, Basic, Gamer, Venue:
		return true
	}
	return false
}

// DisplayName returns the customer facing name of the plan, used in notification emails
func (p Plan) DisplayName() string {
	switch p {
	case Trial:
		return "Free Trial"
	case Basic:
		return "Basic Plan"
	case Gamer:
		return "Gamer Plan"
	case Venue:
		return "Business Plan"
	default:
		return string(p)
	}
}
