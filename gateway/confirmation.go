package gateway

import (
	"encoding/json"
	"fmt"
)

// Confirmation is the parsed outcome of a push, delivered asynchronously by
// the gateway to the callback URL. Only successful confirmations carry the
// receipt, amount and payer phone.
type Confirmation struct {
	ExternalReference string
	ResultCode        int
	ResultDesc        string
	ReceiptID         string
	AmountCents       int64
	Phone             string
}

// Success reports whether the gateway confirmed the payment
func (c *Confirmation) Success() bool {
	return c.ResultCode == 0
}

type metadataItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

type callbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []metadataItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseConfirmation decodes a callback body into a Confirmation. A body that
// cannot be decoded, that cites no reference, or whose success payload lacks
// the receipt identifier is a MalformedError and must not mutate the ledger.
func ParseConfirmation(body []byte) (*Confirmation, error) {
	var envelope callbackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &MalformedError{Reason: "body is not valid JSON"}
	}

	cb := envelope.Body.StkCallback
	if len(cb.CheckoutRequestID) == 0 {
		return nil, &MalformedError{Reason: "no checkout request identifier"}
	}

	conf := &Confirmation{
		ExternalReference: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}

	if !conf.Success() {
		return conf, nil
	}

	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			if s, ok := item.Value.(string); ok {
				conf.ReceiptID = s
			}
		case "Amount":
			if f, ok := item.Value.(float64); ok {
				conf.AmountCents = int64(f * 100)
			}
		case "PhoneNumber":
			switch v := item.Value.(type) {
			case string:
				conf.Phone = v
			case float64:
				conf.Phone = fmt.Sprintf("%.0f", v)
			}
		}
	}

	if len(conf.ReceiptID) == 0 {
		return nil, &MalformedError{Reason: "success confirmation carried no receipt identifier"}
	}

	return conf, nil
}
