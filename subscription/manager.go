package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/malipo-ke/malipo/plan"
)

type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// Manager handles the database operations relating to Subscriptions
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
	if err := option.DB.AutoMigrate(&Subscription{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize subscription.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// UpsertOptions describes the subscription row to write for a customer
type UpsertOptions struct {
	CustomerID string
	Plan       plan.Plan
	StartDate  time.Time
	EndDate    time.Time
}

// Upsert will insert the subscription for the customer, or overwrite the plan,
// state and end date in place if one already exists. Last write wins: the
// reconciliation engine guarantees a single invocation per payment, so no
// versioning is needed here.
func (m *Manager) Upsert(ctx context.Context, opt UpsertOptions) (*Subscription, error) {
	sub := Subscription{
		ID:         uuid.New().String(),
		CustomerID: opt.CustomerID,
		Plan:       opt.Plan,
		State:      StateActive,
		StartDate:  opt.StartDate,
		EndDate:    opt.EndDate,
		AutoRenew:  true,
	}

	result := m.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "customer_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"plan":       opt.Plan,
			"state":      StateActive,
			"start_date": opt.StartDate,
			"end_date":   opt.EndDate,
		}),
	}).Create(&sub)

	if result.Error != nil {
		m.Logger.Error("Unable to upsert subscription in database",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot upsert subscription")
	}

	// on the conflict path the stored row keeps its original id, start date
	// and auto renew flag, so read it back rather than returning the draft
	var stored Subscription
	if fetchRes := m.DB.WithContext(ctx).First(&stored, "customer_id = ?", opt.CustomerID); fetchRes.Error != nil {
		m.Logger.Error("Unable to fetch subscription after upsert",
			zap.Error(fetchRes.Error),
		)
		return nil, extErrors.Wrap(fetchRes.Error, "Cannot fetch upserted subscription")
	}

	return &stored, nil
}

// GetEffectiveByCustomer returns the most recently ending subscription for
// the customer, which is the one dashboard reads consult
func (m *Manager) GetEffectiveByCustomer(ctx context.Context, customerID string) (*Subscription, error) {
	var sub Subscription

	result := m.DB.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("end_date desc").
		First(&sub)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription by customer")
	}

	return &sub, nil
}
