package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/malipo-ke/malipo/subscription"
)

// ErrDuplicateReference signals that a payment with the given reference
// already exists, which on the direct path means a replayed submission
var ErrDuplicateReference = errors.New("a payment with this reference already exists")

type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// Manager is the payment ledger: the durable record of every payment attempt
// and the sole owner of status transitions. All transitions are conditional
// single-statement updates guarded on status = pending, with the affected row
// count as the success signal, so concurrent confirmation deliveries never
// need an in-process lock.
type Manager struct {
	ManagerOptions
}

func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Payment{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize payment.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// CreatePending records a new payment attempt with a freshly generated local
// reference and status pending
func (m *Manager) CreatePending(ctx context.Context, customerID string, amountCents int64, method Method) (*Payment, error) {
	p := Payment{
		ID:             uuid.New().String(),
		CustomerID:     customerID,
		LocalReference: NewLocalReference(),
		AmountCents:    amountCents,
		Method:         method,
		Status:         StatusPending,
	}
	result := m.DB.WithContext(ctx).Create(&p)
	if result.Error != nil {
		m.Logger.Error("Unable to create new payment in database",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot create payment")
	}
	return &p, nil
}

// CreateCompleted records a payment that arrived with proof already in hand
// (the direct path). The unique reference index rejects replayed submissions:
// a second submission with the same reference returns ErrDuplicateReference.
func (m *Manager) CreateCompleted(ctx context.Context, customerID, reference string, amountCents int64, method Method) (*Payment, error) {
	ref := reference
	p := Payment{
		ID:                uuid.New().String(),
		CustomerID:        customerID,
		LocalReference:    reference,
		ExternalReference: &ref,
		ReceiptID:         reference,
		AmountCents:       amountCents,
		Method:            method,
		Status:            StatusCompleted,
	}
	result := m.DB.WithContext(ctx).Create(&p)
	if result.Error != nil {
		if existing, lookupErr := m.FindByReference(ctx, reference); lookupErr == nil && existing != nil {
			return nil, ErrDuplicateReference
		}
		m.Logger.Error("Unable to create completed payment in database",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot create payment")
	}
	return &p, nil
}

// Rebind stores the gateway assigned reference against the pending record so
// that confirmation events, which cite only the external reference, can find
// it. The write is a single conditional update: it races with the first
// confirmation delivery, and a confirmation that arrives before the rebind
// lands simply finds no row and is ignored by the engine.
func (m *Manager) Rebind(ctx context.Context, localReference, externalReference string) error {
	result := m.DB.WithContext(ctx).
		Model(&Payment{}).
		Where("local_reference = ?", localReference).
		Where("status = ?", StatusPending).
		Update("external_reference", externalReference)
	if result.Error != nil {
		m.Logger.Error("Unable to rebind payment reference in database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot rebind payment reference")
	}
	if result.RowsAffected == 0 {
		m.Logger.Warn("Rebind affected 0 rows",
			zap.String("LocalReference", localReference),
			zap.String("ExternalReference", externalReference),
		)
	}
	return nil
}

// FindByReference looks a payment up by its external reference first, falling
// back to the local reference for records the gateway never rebound
func (m *Manager) FindByReference(ctx context.Context, ref string) (*Payment, error) {
	var p Payment

	result := m.DB.WithContext(ctx).First(&p, "external_reference = ?", ref)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		result = m.DB.WithContext(ctx).First(&p, "local_reference = ?", ref)
	}

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get payment by reference")
	}

	return &p, nil
}

// MarkCompleted attempts the pending to completed transition for the payment
// with the given external reference, storing the gateway receipt. It returns
// nil with no error when zero rows were affected, meaning the event was a
// duplicate delivery or cites an already resolved or unknown payment; the
// caller must not run activation in that case.
func (m *Manager) MarkCompleted(ctx context.Context, externalReference, receiptID string) (*Payment, error) {
	result := m.DB.WithContext(ctx).
		Model(&Payment{}).
		Where("external_reference = ?", externalReference).
		Where("status = ?", StatusPending).
		Updates(map[string]interface{}{
			"status":     StatusCompleted,
			"receipt_id": receiptID,
		})
	if result.Error != nil {
		m.Logger.Error("Unable to complete payment in database",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot complete payment")
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	var p Payment
	if lookupRes := m.DB.WithContext(ctx).First(&p, "external_reference = ?", externalReference); lookupRes.Error != nil {
		m.Logger.Error("Unable to fetch payment after completion",
			zap.Error(lookupRes.Error),
		)
		return nil, extErrors.Wrap(lookupRes.Error, "Cannot fetch completed payment")
	}
	return &p, nil
}

// MarkFailed attempts the pending to failed transition. The reference may be
// either side of the rebind: the webhook path cites the external reference,
// a synchronous rejection at push time only knows the local one. Returns
// whether the transition happened.
func (m *Manager) MarkFailed(ctx context.Context, reference string) (bool, error) {
	result := m.DB.WithContext(ctx).
		Model(&Payment{}).
		Where("external_reference = ? OR local_reference = ?", reference, reference).
		Where("status = ?", StatusPending).
		Update("status", StatusFailed)
	if result.Error != nil {
		m.Logger.Error("Unable to fail payment in database",
			zap.Error(result.Error),
		)
		return false, extErrors.Wrap(result.Error, "Cannot fail payment")
	}
	return result.RowsAffected > 0, nil
}

// MarkCancelled attempts the pending to cancelled transition for a single
// payment, cited by either side of the rebind. This is the operator path;
// CancelStale is the bulk timeout policy. Returns whether the transition
// happened.
func (m *Manager) MarkCancelled(ctx context.Context, reference string) (bool, error) {
	result := m.DB.WithContext(ctx).
		Model(&Payment{}).
		Where("external_reference = ? OR local_reference = ?", reference, reference).
		Where("status = ?", StatusPending).
		Update("status", StatusCancelled)
	if result.Error != nil {
		m.Logger.Error("Unable to cancel payment in database",
			zap.Error(result.Error),
		)
		return false, extErrors.Wrap(result.Error, "Cannot cancel payment")
	}
	return result.RowsAffected > 0, nil
}

// CancelStale transitions payments still pending after the cutoff to
// cancelled. This is the administrative timeout policy: a push the gateway
// never confirmed one way or the other does not stay pending forever.
func (m *Manager) CancelStale(ctx context.Context, olderThan time.Time) (int64, error) {
	result := m.DB.WithContext(ctx).
		Model(&Payment{}).
		Where("status = ?", StatusPending).
		Where("created_at < ?", olderThan).
		Update("status", StatusCancelled)
	if result.Error != nil {
		m.Logger.Error("Unable to cancel stale payments in database",
			zap.Error(result.Error),
		)
		return 0, extErrors.Wrap(result.Error, "Cannot cancel stale payments")
	}
	return result.RowsAffected, nil
}

// ListStalled returns completed payments whose customer has no active
// subscription covering them, so a sweep can re-drive activation that failed
// after the ledger transition committed
func (m *Manager) ListStalled(ctx context.Context) ([]Payment, error) {
	results := make([]Payment, 0, 1)
	result := m.DB.WithContext(ctx).
		Where("status = ?", StatusCompleted).
		Where(
			"NOT EXISTS (SELECT 1 FROM subscriptions s WHERE s.customer_id = payments.customer_id AND s.state = ? AND s.end_date > payments.updated_at)",
			subscription.StateActive,
		).
		Order("updated_at asc").
		Find(&results)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list stalled payments")
	}
	return results, nil
}
