package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"

	// refresh the cached token slightly before the gateway's advertised expiry
	tokenExpirySkew = 30 * time.Second
)

// Options provides initialization parameters for the gateway Client
type Options struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	HTTPClient     *http.Client
	Logger         *zap.Logger
	// Clock defaults to time.Now and exists so token expiry is testable
	Clock func() time.Time
}

// Client talks to the mobile push-payment gateway. The bearer token is cached
// process-wide with its advertised expiry and refreshed lazily; a push only
// confirms dispatch, never payment, which arrives later on the callback URL.
type Client struct {
	Options

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient returns a Client for the push-payment gateway
func NewClient(option Options) (*Client, error) {
	if len(option.BaseURL) == 0 {
		return nil, fmt.Errorf("empty BaseURL is invalid")
	}
	if len(option.ConsumerKey) == 0 || len(option.ConsumerSecret) == 0 {
		return nil, fmt.Errorf("empty gateway credentials are invalid")
	}
	if len(option.ShortCode) == 0 || len(option.Passkey) == 0 {
		return nil, fmt.Errorf("empty ShortCode/Passkey is invalid")
	}
	if len(option.CallbackURL) == 0 {
		return nil, fmt.Errorf("empty CallbackURL is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.HTTPClient == nil {
		option.HTTPClient = &http.Client{
			Timeout: 15 * time.Second,
		}
	}
	if option.Clock == nil {
		option.Clock = time.Now
	}
	return &Client{
		Options: option,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// AccessToken returns a valid bearer token, exchanging the static credentials
// for a fresh one when the cached token is missing or expiring
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.token) > 0 && c.Clock().Add(tokenExpirySkew).Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+tokenPath, nil)
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot build token request")
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.ConsumerKey + ":" + c.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.Logger.Error("Gateway token request failed",
			zap.Error(err),
		)
		return "", extErrors.Wrap(ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.Logger.Error("Gateway token request returned non-200",
			zap.Int("StatusCode", resp.StatusCode),
		)
		return "", extErrors.Wrapf(ErrUnavailable, "token endpoint returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", extErrors.Wrap(ErrUnavailable, "cannot decode token response")
	}
	if len(tr.AccessToken) == 0 {
		return "", extErrors.Wrap(ErrUnavailable, "token response carried no access token")
	}

	ttl := 3600
	if parsed, err := strconv.Atoi(tr.ExpiresIn); err == nil && parsed > 0 {
		ttl = parsed
	}

	c.token = tr.AccessToken
	c.tokenExpiry = c.Clock().Add(time.Duration(ttl) * time.Second)

	return c.token, nil
}

// invalidateToken drops the cached token so the next call refreshes it
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// PushRequest describes a payment prompt to send to a customer's phone
type PushRequest struct {
	Phone            string
	AmountCents      int64
	AccountReference string
	Description      string
}

// PushResponse carries the gateway's acknowledgment that the prompt was
// dispatched, including the reference its confirmation callback will cite
type PushResponse struct {
	ExternalReference string
	Description       string
}

type pushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type pushResult struct {
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorMessage        string `json:"errorMessage"`
}

// InitiatePush asks the gateway to prompt the customer's phone for payment.
// A nil error only means the prompt was dispatched; the outcome arrives
// asynchronously on the callback URL. A RejectedError means the gateway
// declined to dispatch, ErrUnavailable means the outcome is unknown.
func (c *Client) InitiatePush(ctx context.Context, push PushRequest) (*PushResponse, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	ts := c.Clock().UTC().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.ShortCode + c.Passkey + ts))

	payload := pushPayload{
		BusinessShortCode: c.ShortCode,
		Password:          password,
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            push.AmountCents / 100,
		PartyA:            push.Phone,
		PartyB:            c.ShortCode,
		PhoneNumber:       push.Phone,
		CallBackURL:       c.CallbackURL,
		AccountReference:  push.AccountReference,
		TransactionDesc:   push.Description,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot encode push payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+pushPath, strings.NewReader(string(body)))
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot build push request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.Logger.Error("Gateway push request failed",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// stale token, drop it so the next attempt refreshes
		c.invalidateToken()
		return nil, extErrors.Wrap(ErrUnavailable, "gateway rejected the bearer token")
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		// a 5xx (including a 504 from an intermediary) leaves the outcome
		// unknown: the push may have been dispatched before the failure
		return nil, extErrors.Wrapf(ErrUnavailable, "push endpoint returned %d", resp.StatusCode)
	}

	var result pushResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, extErrors.Wrap(ErrUnavailable, "cannot decode push response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &RejectedError{
			Code:        strconv.Itoa(resp.StatusCode),
			Description: result.ErrorMessage,
		}
	}

	if result.ResponseCode != "0" {
		return nil, &RejectedError{
			Code:        result.ResponseCode,
			Description: result.ResponseDescription,
		}
	}

	return &PushResponse{
		ExternalReference: result.CheckoutRequestID,
		Description:       result.CustomerMessage,
	}, nil
}
