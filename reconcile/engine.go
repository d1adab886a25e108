package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/malipo-ke/malipo/broker"
	"github.com/malipo-ke/malipo/customer"
	"github.com/malipo-ke/malipo/gateway"
	"github.com/malipo-ke/malipo/payment"
	"github.com/malipo-ke/malipo/plan"
	"github.com/malipo-ke/malipo/subscription"
)

// Ledger is the slice of payment.Manager the engine drives transitions through
type Ledger interface {
	CreatePending(ctx context.Context, customerID string, amountCents int64, method payment.Method) (*payment.Payment, error)
	CreateCompleted(ctx context.Context, customerID, reference string, amountCents int64, method payment.Method) (*payment.Payment, error)
	Rebind(ctx context.Context, localReference, externalReference string) error
	MarkCompleted(ctx context.Context, externalReference, receiptID string) (*payment.Payment, error)
	MarkFailed(ctx context.Context, reference string) (bool, error)
	FindByReference(ctx context.Context, ref string) (*payment.Payment, error)
	ListStalled(ctx context.Context) ([]payment.Payment, error)
}

// Directory is the slice of customer.Manager the engine needs
type Directory interface {
	Upsert(ctx context.Context, opt customer.UpsertOptions) (*customer.Customer, error)
	GetByID(ctx context.Context, id string) (*customer.Customer, error)
}

// Activator turns a confirmed payment into an entitlement
type Activator interface {
	Activate(ctx context.Context, cust *customer.Customer, p plan.Plan) (*subscription.Subscription, error)
}

// Pusher is the slice of the gateway client the engine needs
type Pusher interface {
	InitiatePush(ctx context.Context, push gateway.PushRequest) (*gateway.PushResponse, error)
}

// Audit records confirmation deliveries for observability. It is best effort
// and plays no part in correctness: deduplication rests solely on the
// ledger's conditional update.
type Audit interface {
	RecordConfirmation(conf *gateway.Confirmation, applied bool)
}

// accountPrefix tags the account reference shown on the customer's phone
const accountPrefix = "MALIPO"

type EngineOptions struct {
	Ledger    Ledger
	Directory Directory
	Activator Activator
	Gateway   Pusher
	Notifier  broker.Notifier
	Audit     Audit
	Logger    *zap.Logger
}

// Engine owns the payment state machine: it creates pending payments on
// initiation, consumes asynchronous confirmation events, and drives customer
// and subscription transitions exactly once per logical payment. Every
// transition is a conditional storage update, so concurrent and duplicate
// deliveries collapse to a single activation.
type Engine struct {
	EngineOptions
}

func NewEngine(option EngineOptions) (*Engine, error) {
	if option.Ledger == nil {
		return nil, fmt.Errorf("nil Ledger is invalid")
	}
	if option.Directory == nil {
		return nil, fmt.Errorf("nil Directory is invalid")
	}
	if option.Activator == nil {
		return nil, fmt.Errorf("nil Activator is invalid")
	}
	if option.Gateway == nil {
		return nil, fmt.Errorf("nil Gateway is invalid")
	}
	if option.Notifier == nil {
		return nil, fmt.Errorf("nil Notifier is invalid")
	}
	if option.Audit == nil {
		return nil, fmt.Errorf("nil Audit is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Engine{
		EngineOptions: option,
	}, nil
}

// InitiateRequest describes a push payment to start
type InitiateRequest struct {
	Name        string
	Email       string
	Phone       string
	Plan        plan.Plan
	AmountCents int64
}

// InitiateResult acknowledges that the push was dispatched, not paid
type InitiateResult struct {
	Reference string
	Message   string
}

// ErrUndetermined wraps an initiation whose outcome is unknown: the payment
// row stays pending because the push may still land asynchronously. Reference
// lets the caller poll the payment status.
type ErrUndetermined struct {
	Cause     error
	Reference string
}

func (e *ErrUndetermined) Error() string {
	return fmt.Sprintf("push outcome undetermined: %v", e.Cause)
}

func (e *ErrUndetermined) Unwrap() error {
	return e.Cause
}

// InitiatePush upserts the customer, records a pending payment and asks the
// gateway to prompt the customer's phone. On success the gateway's own
// reference is rebound onto the record so the later confirmation can find it.
// A gateway rejection fails the payment immediately; a transport failure
// leaves it pending and surfaces as undetermined.
func (e *Engine) InitiatePush(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	cust, err := e.Directory.Upsert(ctx, customer.UpsertOptions{
		Name:   req.Name,
		Email:  req.Email,
		Phone:  req.Phone,
		Plan:   req.Plan,
		Status: customer.StatusTrial,
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot reconcile customer for initiation")
	}

	pending, err := e.Ledger.CreatePending(ctx, cust.ID, req.AmountCents, payment.MethodPush)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot record pending payment")
	}

	logger := e.Logger.With(
		zap.String("CustomerID", cust.ID),
		zap.String("LocalReference", pending.LocalReference),
	)

	resp, err := e.Gateway.InitiatePush(ctx, gateway.PushRequest{
		Phone:            req.Phone,
		AmountCents:      req.AmountCents,
		AccountReference: accountPrefix + strings.ToUpper(string(req.Plan)),
		Description:      req.Plan.DisplayName(),
	})
	if err != nil {
		var rejected *gateway.RejectedError
		if extErrors.As(err, &rejected) {
			// the gateway declined to dispatch, this push can never confirm
			if _, failErr := e.Ledger.MarkFailed(ctx, pending.LocalReference); failErr != nil {
				logger.Error("Unable to fail rejected payment",
					zap.Error(failErr),
				)
			}
			logger.Warn("Gateway rejected push",
				zap.String("Code", rejected.Code),
				zap.String("Description", rejected.Description),
			)
			return nil, err
		}
		// outcome unknown: the row stays pending, the push may still land
		logger.Warn("Push outcome undetermined",
			zap.Error(err),
		)
		return nil, &ErrUndetermined{Cause: err, Reference: pending.LocalReference}
	}

	if err := e.Ledger.Rebind(ctx, pending.LocalReference, resp.ExternalReference); err != nil {
		// the push is out regardless; confirmation lookups fall back to the
		// local reference column, so surface but do not roll back
		logger.Error("Unable to rebind external reference",
			zap.Error(err),
		)
	}

	logger.Info("Push dispatched",
		zap.String("ExternalReference", resp.ExternalReference),
	)

	return &InitiateResult{
		Reference: resp.ExternalReference,
		Message:   resp.Description,
	}, nil
}

// HandleConfirmation consumes one asynchronous confirmation event. The
// pending to completed transition is conditional on the row still being
// pending; zero affected rows means a duplicate delivery or an unknown or
// already resolved reference, which is acknowledged without further effect.
// Downstream activation therefore fires exactly once per payment. A nil
// return acknowledges the event; an error means internal failure and the
// gateway should redeliver.
func (e *Engine) HandleConfirmation(ctx context.Context, conf *gateway.Confirmation) error {
	logger := e.Logger.With(zap.String("ExternalReference", conf.ExternalReference))

	if !conf.Success() {
		applied, err := e.Ledger.MarkFailed(ctx, conf.ExternalReference)
		if err != nil {
			return extErrors.Wrap(err, "Cannot fail payment from confirmation")
		}
		e.Audit.RecordConfirmation(conf, applied)
		if !applied {
			logger.Info("Failure confirmation was a no-op",
				zap.Int("ResultCode", conf.ResultCode),
			)
			return nil
		}
		logger.Info("Payment failed by gateway",
			zap.Int("ResultCode", conf.ResultCode),
			zap.String("ResultDesc", conf.ResultDesc),
		)
		return nil
	}

	completed, err := e.Ledger.MarkCompleted(ctx, conf.ExternalReference, conf.ReceiptID)
	if err != nil {
		return extErrors.Wrap(err, "Cannot complete payment from confirmation")
	}
	e.Audit.RecordConfirmation(conf, completed != nil)
	if completed == nil {
		// duplicate delivery, or a reference this ledger never issued
		logger.Info("Success confirmation was a no-op")
		return nil
	}

	logger.Info("Payment completed",
		zap.String("ReceiptID", conf.ReceiptID),
	)

	// the ledger transition is durable from here on: activation problems are
	// alerted for replay, never bounced back to the gateway
	e.activate(ctx, completed, logger)
	return nil
}

// DirectRequest describes a synchronous capture with client-supplied proof.
// Method defaults to direct when unset.
type DirectRequest struct {
	Name        string
	Email       string
	Phone       string
	Plan        plan.Plan
	Reference   string
	AmountCents int64
	Method      payment.Method
}

// HandleDirect records a payment that arrives already confirmed and proceeds
// straight to activation. There is only one writer, so no race guard is
// needed, but the unique reference still rejects replayed submissions with
// payment.ErrDuplicateReference.
func (e *Engine) HandleDirect(ctx context.Context, req DirectRequest) (*payment.Payment, error) {
	cust, err := e.Directory.Upsert(ctx, customer.UpsertOptions{
		Name:   req.Name,
		Email:  req.Email,
		Phone:  req.Phone,
		Plan:   req.Plan,
		Status: customer.StatusActive,
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot reconcile customer for direct payment")
	}

	method := req.Method
	if len(method) == 0 {
		method = payment.MethodDirect
	}

	completed, err := e.Ledger.CreateCompleted(ctx, cust.ID, req.Reference, req.AmountCents, method)
	if err != nil {
		return nil, err
	}

	e.activate(ctx, completed, e.Logger.With(
		zap.String("Reference", req.Reference),
	))

	return completed, nil
}

// activate resolves the owning customer, invokes the Activator and signals
// the notification collaborator. It runs only after a payment durably reached
// completed; any failure is alerted so a sweep or manual replay can re-drive
// it from the ledger.
func (e *Engine) activate(ctx context.Context, completed *payment.Payment, logger *zap.Logger) {
	cust, err := e.Directory.GetByID(ctx, completed.CustomerID)
	if err == nil && cust == nil {
		err = fmt.Errorf("completed payment %s references unknown customer %s", completed.ID, completed.CustomerID)
	}

	var sub *subscription.Subscription
	if err == nil {
		sub, err = e.Activator.Activate(ctx, cust, cust.Plan)
	}

	if err != nil {
		logger.Error("Activation failed after ledger transition committed",
			zap.Error(err),
		)
		if alertErr := e.Notifier.AlertActivationStalled(broker.ActivationAlert{
			PaymentID:  completed.ID,
			CustomerID: completed.CustomerID,
			Reference:  completed.Reference(),
			Reason:     err.Error(),
			OccurredAt: time.Now(),
		}); alertErr != nil {
			logger.Error("Unable to publish activation alert",
				zap.Error(alertErr),
			)
		}
		return
	}

	if err := e.Notifier.NotifyPaymentConfirmed(broker.PaymentConfirmedNotice{
		Email:       cust.Email,
		Name:        cust.Name,
		PlanName:    cust.Plan.DisplayName(),
		Reference:   completed.Reference(),
		ReceiptID:   completed.ReceiptID,
		AmountCents: completed.AmountCents,
		ConfirmedAt: time.Now(),
	}); err != nil {
		logger.Error("Unable to publish confirmation notice",
			zap.Error(err),
		)
	}

	logger.Info("Activation completed",
		zap.String("SubscriptionID", sub.ID),
		zap.Time("EndDate", sub.EndDate),
	)
}

// PaymentStatus is the read-only projection of a payment's current state,
// looked up by either side of the rebind. Returns nil when the reference is
// unknown.
func (e *Engine) PaymentStatus(ctx context.Context, reference string) (*payment.Payment, error) {
	return e.Ledger.FindByReference(ctx, reference)
}

// ReplayStalled re-drives activation for completed payments whose customer
// has no active subscription covering them. It is the recovery path for
// activations that failed after the ledger transition committed.
func (e *Engine) ReplayStalled(ctx context.Context) (int, error) {
	stalled, err := e.Ledger.ListStalled(ctx)
	if err != nil {
		return 0, extErrors.Wrap(err, "Cannot list stalled payments")
	}

	replayed := 0
	for i := range stalled {
		p := &stalled[i]
		logger := e.Logger.With(
			zap.String("PaymentID", p.ID),
			zap.String("Reference", p.Reference()),
		)
		cust, err := e.Directory.GetByID(ctx, p.CustomerID)
		if err != nil {
			logger.Error("Unable to resolve customer for replay",
				zap.Error(err),
			)
			continue
		}
		if cust == nil {
			logger.Error("Stalled payment references unknown customer",
				zap.String("CustomerID", p.CustomerID),
			)
			continue
		}
		if _, err := e.Activator.Activate(ctx, cust, cust.Plan); err != nil {
			logger.Error("Replay activation failed",
				zap.Error(err),
			)
			continue
		}
		logger.Info("Replayed stalled activation")
		replayed++
	}

	return replayed, nil
}
