package broker

import "time"

// PaymentConfirmedNotice is consumed by the external mailer to send the
// activation confirmation email
type PaymentConfirmedNotice struct {
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	PlanName    string    `json:"planName"`
	Reference   string    `json:"reference"`
	ReceiptID   string    `json:"receiptId"`
	AmountCents int64     `json:"amountCents"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

// TrialStartedNotice is consumed by the external mailer to send the trial
// setup instructions email
type TrialStartedNotice struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ActivationAlert reports a payment that was durably marked completed but
// whose downstream activation failed, so operators (or the replay sweep) can
// re-drive it instead of the failure being silently dropped
type ActivationAlert struct {
	PaymentID  string    `json:"paymentId"`
	CustomerID string    `json:"customerId"`
	Reference  string    `json:"reference"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Notifier defines the interface for publishing notification and alert events
// via message broker
type Notifier interface {
	Close()
	NotifyPaymentConfirmed(n PaymentConfirmedNotice) error
	NotifyTrialStarted(n TrialStartedNotice) error
	AlertActivationStalled(a ActivationAlert) error
}
