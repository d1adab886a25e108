package customer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/malipo-ke/malipo/plan"
)

// Manager handles the database operations relating to Customers
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for customers
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Customer{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize customer.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// GetByID will try to return the customer in the database by id
func (m *Manager) GetByID(ctx context.Context, id string) (*Customer, error) {
	var cust Customer

	result := m.db.WithContext(ctx).First(&cust, "id = ?", id)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get customer by id")
	}

	return &cust, nil
}

// GetByEmail will try to return the customer in the database by email address
func (m *Manager) GetByEmail(ctx context.Context, email string) (*Customer, error) {
	var cust Customer

	result := m.db.WithContext(ctx).First(&cust, "email = ?", email)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get customer by email")
	}

	return &cust, nil
}

// UpsertOptions describes the profile to reconcile against the customers table
type UpsertOptions struct {
	Name   string
	Email  string
	Phone  string
	Plan   plan.Plan
	Status Status
}

// Upsert will update the customer matched by email or phone, or create a new
// one if no match exists. Matching by phone as well guards against the same
// person initiating with a different email address.
func (m *Manager) Upsert(ctx context.Context, opt UpsertOptions) (*Customer, error) {
	var cust Customer

	result := m.db.WithContext(ctx).
		Where("email = ?", opt.Email).
		Or("phone = ? AND phone <> ''", opt.Phone).
		First(&cust)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		cust = Customer{
			ID:     uuid.New().String(),
			Name:   opt.Name,
			Email:  opt.Email,
			Phone:  opt.Phone,
			Plan:   opt.Plan,
			Status: opt.Status,
		}
		createRes := m.db.WithContext(ctx).Create(&cust)
		if createRes.Error == nil {
			return &cust, nil
		}
		// a concurrent initiation may have inserted the same email between
		// the lookup and the create; retry the lookup and update that row
		// instead of surfacing the unique violation. The retry needs a fresh
		// destination so the draft's primary key is not added to the query.
		var existing Customer
		retryRes := m.db.WithContext(ctx).
			Where("email = ?", opt.Email).
			Or("phone = ? AND phone <> ''", opt.Phone).
			First(&existing)
		if retryRes.Error != nil {
			m.logger.Error("Unable to create new customer in database",
				zap.Error(createRes.Error),
			)
			return nil, extErrors.Wrap(createRes.Error, "Cannot create customer")
		}
		cust = existing
	} else if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot look up customer")
	}

	cust.Name = opt.Name
	cust.Plan = opt.Plan
	cust.Status = opt.Status
	if len(opt.Phone) > 0 {
		cust.Phone = opt.Phone
	}

	if saveRes := m.db.WithContext(ctx).Save(&cust); saveRes.Error != nil {
		m.logger.Error("Unable to update customer in database",
			zap.Error(saveRes.Error),
		)
		return nil, extErrors.Wrap(saveRes.Error, "Cannot update customer")
	}

	return &cust, nil
}

// Activate will set the customer's status and expiry after a successful activation
func (m *Manager) Activate(ctx context.Context, id string, status Status, expiresAt time.Time) error {
	result := m.db.WithContext(ctx).
		Model(&Customer{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"expires_at": expiresAt,
		})
	if result.Error != nil {
		m.logger.Error("Unable to activate customer in database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot activate customer")
	}
	return nil
}

// StartTrial will upsert the customer into a trial with the given expiry
func (m *Manager) StartTrial(ctx context.Context, name, email string, p plan.Plan, expiresAt time.Time) (*Customer, error) {
	cust, err := m.Upsert(ctx, UpsertOptions{
		Name:   name,
		Email:  email,
		Plan:   p,
		Status: StatusTrial,
	})
	if err != nil {
		return nil, err
	}
	if err := m.db.WithContext(ctx).
		Model(&Customer{}).
		Where("id = ?", cust.ID).
		Update("expires_at", expiresAt).Error; err != nil {
		m.logger.Error("Unable to set trial expiry in database",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot set trial expiry")
	}
	cust.ExpiresAt = &expiresAt
	return cust, nil
}

// ExpireTrials transitions every trial customer whose expiry has passed to
// expired in a single conditional bulk update. Running it again with no newly
// expired rows is a no-op.
func (m *Manager) ExpireTrials(ctx context.Context, now time.Time) (int64, error) {
	result := m.db.WithContext(ctx).
		Model(&Customer{}).
		Where("status = ?", StatusTrial).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Update("status", StatusExpired)
	if result.Error != nil {
		m.logger.Error("Unable to expire trials in database",
			zap.Error(result.Error),
		)
		return 0, extErrors.Wrap(result.Error, "Cannot expire trials")
	}
	return result.RowsAffected, nil
}
