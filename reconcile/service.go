package reconcile

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/malipo-ke/malipo/gateway"
	"github.com/malipo-ke/malipo/payment"
	"github.com/malipo-ke/malipo/plan"
	resp "github.com/malipo-ke/malipo/response"
)

var validate *validator.Validate = validator.New()

// callback bodies are small; anything larger is not a confirmation
const maxCallbackBody = 1 << 20

// Options contains the configuration for Service router
type Options struct {
	Engine *Engine
	Logger *zap.Logger
	// Development gates diagnostic detail in error responses
	Development bool
}

// Service is the payments API router
type Service struct {
	Options
}

// NewService will create an instance of the payments API router
func NewService(option Options) (*Service, error) {
	if option.Engine == nil {
		return nil, fmt.Errorf("nil Engine is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		Options: option,
	}, nil
}

// InitiatePaymentRequest is the model of user request to start a push payment
type InitiatePaymentRequest struct {
	Name   string `json:"name" validate:"required"`
	Email  string `json:"email" validate:"required,email"`
	Phone  string `json:"phone" validate:"required"`
	Plan   string `json:"plan" validate:"required"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
}

// InitiatePaymentResponse acknowledges that the prompt was sent to the phone
type InitiatePaymentResponse struct {
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

func (s *Service) withDetail(e *resp.Error, err error) *resp.Error {
	if s.Development {
		return e.AddMessages(err.Error())
	}
	return e
}

func (s *Service) initiatePayment(w http.ResponseWriter, r *http.Request) {
	var req InitiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Missing required fields"))
		return
	}
	if !plan.Plan(req.Plan).Valid() {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unknown plan"))
		return
	}

	logger := s.Logger.With(
		zap.String("Email", req.Email),
		zap.String("Plan", req.Plan),
	)

	result, err := s.Engine.InitiatePush(r.Context(), InitiateRequest{
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Plan:        plan.Plan(req.Plan),
		AmountCents: req.Amount * 100,
	})
	if err != nil {
		var rejected *gateway.RejectedError
		var undetermined *ErrUndetermined
		switch {
		case extErrors.As(err, &rejected):
			resp.WriteError(w, r, s.withDetail(
				resp.ErrGatewayUnavailable().WithMessage("Payment gateway declined the request"), err))
		case extErrors.As(err, &undetermined):
			resp.WriteError(w, r, s.withDetail(
				resp.ErrGatewayUnavailable().
					AddMessages("The payment outcome is undetermined, check the payment status shortly").
					WithResult(InitiatePaymentResponse{Reference: undetermined.Reference}), err))
		default:
			logger.Error("Unable to initiate push payment",
				zap.Error(err),
			)
			resp.WriteError(w, r, s.withDetail(resp.ErrUnexpected(), err))
		}
		return
	}

	resp.WriteResponse(w, r, InitiatePaymentResponse{
		Reference: result.Reference,
		Message:   result.Message,
	})
}

// handleCallback acknowledges every confirmation the gateway delivers once it
// parses, including duplicates, no-ops and malformed-but-unfixable events, so
// the gateway does not storm us with redeliveries. Only an internal failure
// returns 500, which asks the gateway to retry.
func (s *Service) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		s.Logger.Error("Unable to read callback body",
			zap.Error(err),
		)
		http.Error(w, "cannot read body", http.StatusInternalServerError)
		return
	}

	conf, err := gateway.ParseConfirmation(body)
	if err != nil {
		// unfixable event: acknowledge to stop redelivery, mutate nothing
		s.Logger.Warn("Discarding malformed confirmation",
			zap.Error(err),
		)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
		return
	}

	if err := s.Engine.HandleConfirmation(r.Context(), conf); err != nil {
		s.Logger.Error("Unable to process confirmation",
			zap.String("ExternalReference", conf.ExternalReference),
			zap.Error(err),
		)
		http.Error(w, "error processing callback", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// DirectPaymentRequest is the model of user request for the synchronous path
type DirectPaymentRequest struct {
	Name      string `json:"name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"required"`
	Plan      string `json:"plan" validate:"required"`
	PaymentID string `json:"payment_id" validate:"required"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Method    string `json:"method"`
}

// DirectPaymentResponse confirms the recorded payment
type DirectPaymentResponse struct {
	Reference string `json:"reference"`
}

func (s *Service) directPayment(w http.ResponseWriter, r *http.Request) {
	var req DirectPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Missing required fields"))
		return
	}
	if !plan.Plan(req.Plan).Valid() {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unknown plan"))
		return
	}
	if len(req.Method) > 0 && !payment.Method(req.Method).Valid() {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unknown payment method"))
		return
	}

	completed, err := s.Engine.HandleDirect(r.Context(), DirectRequest{
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Plan:        plan.Plan(req.Plan),
		Reference:   req.PaymentID,
		AmountCents: req.Amount * 100,
		Method:      payment.Method(req.Method),
	})
	if err != nil {
		if extErrors.Is(err, payment.ErrDuplicateReference) {
			resp.WriteError(w, r, resp.ErrConflict().AddMessages("This payment was already submitted"))
			return
		}
		s.Logger.Error("Unable to process direct payment",
			zap.String("PaymentID", req.PaymentID),
			zap.Error(err),
		)
		resp.WriteError(w, r, s.withDetail(resp.ErrUnexpected(), err))
		return
	}

	resp.WriteResponse(w, r, DirectPaymentResponse{
		Reference: completed.Reference(),
	})
}

// PaymentStatusResponse is the read-only projection of payment state
type PaymentStatusResponse struct {
	Status payment.Status `json:"status"`
}

func (s *Service) paymentStatus(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	p, err := s.Engine.PaymentStatus(r.Context(), reference)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	if p == nil {
		resp.WriteError(w, r, resp.ErrNotFound().AddMessages("Transaction not found"))
		return
	}

	resp.WriteResponse(w, r, PaymentStatusResponse{
		Status: p.Status,
	})
}

// Router will return the routes under payments API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/initiate", s.initiatePayment)
	r.Post("/callback", s.handleCallback)
	r.Post("/direct", s.directPayment)
	r.Get("/status/{reference}", s.paymentStatus)

	return r
}
