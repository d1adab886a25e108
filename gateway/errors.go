package gateway

import (
	"errors"
	"fmt"
)

// ErrUnavailable signals a transport or authentication failure talking to the
// gateway. It is retryable and distinct from the gateway declining a push.
var ErrUnavailable = errors.New("payment gateway unavailable")

// RejectedError signals that the gateway declined to dispatch the push. This
// is not a confirmation: the ledger decides separately what happens to the
// payment record.
type RejectedError struct {
	Code        string
	Description string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway rejected push (code %s): %s", e.Code, e.Description)
}

// MalformedError signals a confirmation payload that cannot be acted on, e.g.
// a success callback with no receipt identifier. The ledger must not be
// mutated for such events.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed confirmation: %s", e.Reason)
}
