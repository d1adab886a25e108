package customer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/malipo-ke/malipo/broker"
	"github.com/malipo-ke/malipo/subscription"
)

type noopNotifier struct{}

func (noopNotifier) Close()                                                     {}
func (noopNotifier) NotifyPaymentConfirmed(broker.PaymentConfirmedNotice) error { return nil }
func (noopNotifier) NotifyTrialStarted(broker.TrialStartedNotice) error         { return nil }
func (noopNotifier) AlertActivationStalled(broker.ActivationAlert) error        { return nil }

type noopSubscriptions struct{}

func (noopSubscriptions) GetEffectiveByCustomer(ctx context.Context, customerID string) (*subscription.Subscription, error) {
	return nil, nil
}

func TestNewServiceRejectsNil(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewService(Options{
		Subscriptions: noopSubscriptions{},
		Notifier:      noopNotifier{},
		Logger:        logger,
	})
	assert.Error(t, err)

	_, err = NewService(Options{
		CustomerManager: &Manager{},
		Notifier:        noopNotifier{},
		Logger:          logger,
	})
	assert.Error(t, err)
}

func TestStartTrialValidation(t *testing.T) {
	svc, err := NewService(Options{
		CustomerManager: &Manager{},
		Subscriptions:   noopSubscriptions{},
		Notifier:        noopNotifier{},
		Logger:          zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing name", `{"email":"jane@example.com"}`},
		{"bad email", `{"name":"Jane","email":"nope"}`},
		{"unknown plan", `{"name":"Jane","email":"jane@example.com","plan":"platinum"}`},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res, err := http.Post(srv.URL+"/trial", "application/json", strings.NewReader(c.body))
			require.NoError(t, err)
			res.Body.Close()
			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
		})
	}
}
