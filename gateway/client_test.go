package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type gatewayStub struct {
	tokenRequests int
	pushRequests  int
	tokenTTL      string
	pushStatus    int
	pushBody      map[string]interface{}
	lastPush      pushPayload
}

func (g *gatewayStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		g.tokenRequests++
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "token-1",
			"expires_in":   g.tokenTTL,
		})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		g.pushRequests++
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&g.lastPush))
		w.WriteHeader(g.pushStatus)
		json.NewEncoder(w).Encode(g.pushBody)
	})
	return mux
}

func newTestClient(t *testing.T, baseURL string, clock func() time.Time) *Client {
	client, err := NewClient(Options{
		BaseURL:        baseURL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://example.com/payments/callback",
		Logger:         zaptest.NewLogger(t),
		Clock:          clock,
	})
	require.NoError(t, err)
	return client
}

func TestAccessTokenCached(t *testing.T) {
	stub := &gatewayStub{tokenTTL: "3599"}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	ctx := context.Background()

	first, err := client.AccessToken(ctx)
	require.NoError(t, err)
	second, err := client.AccessToken(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, stub.tokenRequests)
}

func TestAccessTokenRefreshesAfterExpiry(t *testing.T) {
	stub := &gatewayStub{tokenTTL: "3599"}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	now := time.Now()
	client := newTestClient(t, srv.URL, func() time.Time { return now })
	ctx := context.Background()

	_, err := client.AccessToken(ctx)
	require.NoError(t, err)

	// advance past the advertised ttl minus the refresh skew
	now = now.Add(3599 * time.Second)
	_, err = client.AccessToken(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, stub.tokenRequests)
}

func TestInitiatePushDispatched(t *testing.T) {
	stub := &gatewayStub{
		tokenTTL:   "3599",
		pushStatus: http.StatusOK,
		pushBody: map[string]interface{}{
			"CheckoutRequestID": "ws_CO_42",
			"ResponseCode":      "0",
			"CustomerMessage":   "Success. Request accepted for processing",
		},
	}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	fixed := time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)
	client := newTestClient(t, srv.URL, func() time.Time { return fixed })

	resp, err := client.InitiatePush(context.Background(), PushRequest{
		Phone:            "254708374149",
		AmountCents:      150000,
		AccountReference: "MALIPOGAMER",
		Description:      "Gamer Plan",
	})
	require.NoError(t, err)

	assert.Equal(t, "ws_CO_42", resp.ExternalReference)
	assert.Equal(t, "Success. Request accepted for processing", resp.Description)

	assert.Equal(t, int64(1500), stub.lastPush.Amount)
	assert.Equal(t, "174379", stub.lastPush.BusinessShortCode)
	assert.Equal(t, "CustomerPayBillOnline", stub.lastPush.TransactionType)
	assert.Equal(t, "20240310143000", stub.lastPush.Timestamp)
	expectedPassword := base64.StdEncoding.EncodeToString([]byte("174379" + "passkey" + "20240310143000"))
	assert.Equal(t, expectedPassword, stub.lastPush.Password)
}

func TestInitiatePushRejected(t *testing.T) {
	stub := &gatewayStub{
		tokenTTL:   "3599",
		pushStatus: http.StatusOK,
		pushBody: map[string]interface{}{
			"ResponseCode":        "1",
			"ResponseDescription": "Insufficient balance",
		},
	}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)

	_, err := client.InitiatePush(context.Background(), PushRequest{
		Phone:       "254708374149",
		AmountCents: 150000,
	})

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "1", rejected.Code)
	assert.Equal(t, "Insufficient balance", rejected.Description)
}

func TestInitiatePushServerErrorIsUnavailable(t *testing.T) {
	for _, status := range []int{
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	} {
		stub := &gatewayStub{
			tokenTTL:   "3599",
			pushStatus: status,
			pushBody:   map[string]interface{}{"errorMessage": "Service currently unavailable"},
		}
		srv := httptest.NewServer(stub.handler(t))

		client := newTestClient(t, srv.URL, nil)

		_, err := client.InitiatePush(context.Background(), PushRequest{
			Phone:       "254708374149",
			AmountCents: 150000,
		})

		// the push may have been dispatched before the failure, so this must
		// not be treated as the gateway declining the request
		assert.ErrorIs(t, err, ErrUnavailable, "status %d", status)
		var rejected *RejectedError
		assert.False(t, errors.As(err, &rejected), "status %d must not reject", status)

		srv.Close()
	}
}

func TestInitiatePushUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := newTestClient(t, srv.URL, nil)

	_, err := client.InitiatePush(context.Background(), PushRequest{
		Phone:       "254708374149",
		AmountCents: 150000,
	})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestInitiatePushInvalidatesTokenOn401(t *testing.T) {
	stub := &gatewayStub{
		tokenTTL:   "3599",
		pushStatus: http.StatusUnauthorized,
		pushBody:   map[string]interface{}{},
	}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	ctx := context.Background()

	_, err := client.InitiatePush(ctx, PushRequest{Phone: "254708374149", AmountCents: 100})
	assert.ErrorIs(t, err, ErrUnavailable)

	// the cached token was dropped, the next attempt re-authenticates
	_, _ = client.InitiatePush(ctx, PushRequest{Phone: "254708374149", AmountCents: 100})
	assert.Equal(t, 2, stub.tokenRequests)
}
