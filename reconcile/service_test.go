package reconcile

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/malipo-ke/malipo/payment"
)

func newTestService(t *testing.T) (*Service, *engineFixture) {
	f := newEngineFixture(t)
	svc, err := NewService(Options{
		Engine: f.engine,
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return svc, f
}

func TestInitiateEndpoint(t *testing.T) {
	svc, f := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	body := `{"name":"Jane Wanjiru","email":"jane@example.com","phone":"254708374149","plan":"gamer","amount":1500}`
	res, err := http.Post(srv.URL+"/initiate", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)

	require.Len(t, f.pusher.requests, 1)
	assert.Equal(t, int64(150000), f.pusher.requests[0].AmountCents)
}

func TestInitiateEndpointValidation(t *testing.T) {
	svc, f := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing fields", `{"name":"Jane"}`},
		{"bad email", `{"name":"Jane","email":"nope","phone":"254708374149","plan":"gamer","amount":1500}`},
		{"unknown plan", `{"name":"Jane","email":"jane@example.com","phone":"254708374149","plan":"platinum","amount":1500}`},
		{"zero amount", `{"name":"Jane","email":"jane@example.com","phone":"254708374149","plan":"gamer","amount":0}`},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res, err := http.Post(srv.URL+"/initiate", "application/json", strings.NewReader(c.body))
			require.NoError(t, err)
			res.Body.Close()
			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
		})
	}

	assert.Empty(t, f.pusher.requests)
}

func TestCallbackEndpointMalformedAcked(t *testing.T) {
	svc, f := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	res, err := http.Post(srv.URL+"/callback", "application/json", strings.NewReader(`not json at all`))
	require.NoError(t, err)
	res.Body.Close()

	// acknowledged to stop redelivery, but nothing was recorded
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, f.audit.records)
	assert.Empty(t, f.activator.activations)
}

func TestCallbackEndpointCompletesPayment(t *testing.T) {
	svc, f := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	initiate := `{"name":"Jane Wanjiru","email":"jane@example.com","phone":"254708374149","plan":"gamer","amount":1500}`
	res, err := http.Post(srv.URL+"/initiate", "application/json", strings.NewReader(initiate))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	callback := `{
		"Body": {
			"stkCallback": {
				"CheckoutRequestID": "ws_CO_42",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 1500.00},
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
						{"Name": "PhoneNumber", "Value": 254708374149}
					]
				}
			}
		}
	}`
	res, err = http.Post(srv.URL+"/callback", "application/json", strings.NewReader(callback))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	require.Len(t, f.activator.activations, 1)

	statusRes, err := http.Get(srv.URL + "/status/ws_CO_42")
	require.NoError(t, err)
	statusRes.Body.Close()
	assert.Equal(t, http.StatusOK, statusRes.StatusCode)

	p := f.ledger.byLocalReference("MLP1")
	require.NotNil(t, p)
	assert.Equal(t, payment.StatusCompleted, p.Status)
}

func TestStatusEndpointUnknownReference(t *testing.T) {
	svc, _ := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/status/ws_CO_does_not_exist")
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestDirectEndpointDuplicate(t *testing.T) {
	svc, f := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	body := `{"name":"Jane Wanjiru","email":"jane@example.com","phone":"254708374149","plan":"basic","payment_id":"BANKREF-77","amount":800}`

	res, err := http.Post(srv.URL+"/direct", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Post(srv.URL+"/direct", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	assert.Len(t, f.activator.activations, 1)
}

func TestDirectEndpointRejectsUnknownMethod(t *testing.T) {
	svc, f := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	body := `{"name":"Jane Wanjiru","email":"jane@example.com","phone":"254708374149","plan":"basic","payment_id":"BANKREF-78","amount":800,"method":"carrier-pigeon"}`

	res, err := http.Post(srv.URL+"/direct", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Empty(t, f.activator.activations)
}
