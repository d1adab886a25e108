package customer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/malipo-ke/malipo/broker"
	"github.com/malipo-ke/malipo/plan"
	resp "github.com/malipo-ke/malipo/response"
	"github.com/malipo-ke/malipo/subscription"
)

var validate *validator.Validate = validator.New()

// SubscriptionReader is the slice of subscription.Manager dashboard reads need
type SubscriptionReader interface {
	GetEffectiveByCustomer(ctx context.Context, customerID string) (*subscription.Subscription, error)
}

// Options contains the configuration for Service router
type Options struct {
	CustomerManager *Manager
	Subscriptions   SubscriptionReader
	Notifier        broker.Notifier
	Logger          *zap.Logger
}

// Service is the customer API router
type Service struct {
	Options
}

// NewService will create an instance of the customer API router
func NewService(option Options) (*Service, error) {
	if option.CustomerManager == nil {
		return nil, fmt.Errorf("nil CustomerManager is invalid")
	}
	if option.Subscriptions == nil {
		return nil, fmt.Errorf("nil Subscriptions is invalid")
	}
	if option.Notifier == nil {
		return nil, fmt.Errorf("nil Notifier is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		Options: option,
	}, nil
}

// DashboardResponse joins the customer with their most recent subscription
type DashboardResponse struct {
	Customer           *Customer           `json:"customer"`
	SubscriptionStatus *subscription.State `json:"subscriptionStatus"`
	SubscriptionEnd    *time.Time          `json:"subscriptionEnd"`
}

func (s *Service) dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email := chi.URLParam(r, "email")

	cust, err := s.CustomerManager.GetByEmail(ctx, email)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if cust == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Customer not found"))
		return
	}

	result := DashboardResponse{
		Customer: cust,
	}

	sub, err := s.Subscriptions.GetEffectiveByCustomer(ctx, cust.ID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if sub != nil {
		result.SubscriptionStatus = &sub.State
		result.SubscriptionEnd = &sub.EndDate
	}

	resp.WriteResponse(w, r, result)
}

// TrialRequest is the model of user request to start a free trial
type TrialRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Plan  string `json:"plan"`
}

// TrialResponse reports when the trial runs out
type TrialResponse struct {
	Expires time.Time `json:"expires"`
}

func (s *Service) startTrial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TrialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Name and email are required"))
		return
	}
	if len(req.Plan) == 0 {
		req.Plan = string(plan.Trial)
	}
	if !plan.Plan(req.Plan).Valid() {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unknown plan"))
		return
	}

	logger := s.Logger.With(zap.String("Email", req.Email))

	expiresAt := subscription.ComputeExpiry(plan.Trial, time.Now())

	cust, err := s.CustomerManager.StartTrial(ctx, req.Name, req.Email, plan.Plan(req.Plan), expiresAt)
	if err != nil {
		logger.Error("Unable to start trial",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Failed to start trial"))
		return
	}

	if err := s.Notifier.NotifyTrialStarted(broker.TrialStartedNotice{
		Email:     cust.Email,
		Name:      cust.Name,
		ExpiresAt: expiresAt,
	}); err != nil {
		logger.Error("Unable to publish trial started notice",
			zap.Error(err),
		)
	}

	resp.WriteResponse(w, r, TrialResponse{
		Expires: expiresAt,
	})
}

// Router will return the routes under customer API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/trial", s.startTrial)
	r.Get("/{email}", s.dashboard)

	return r
}
