package reconcile

import (
	"context"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/malipo-ke/malipo/customer"
	"github.com/malipo-ke/malipo/plan"
	"github.com/malipo-ke/malipo/subscription"
)

var _ Activator = &SubscriptionActivator{}

// CustomerStore is the slice of customer.Manager the activator needs
type CustomerStore interface {
	Activate(ctx context.Context, id string, status customer.Status, expiresAt time.Time) error
}

// SubscriptionStore is the slice of subscription.Manager the activator needs
type SubscriptionStore interface {
	Upsert(ctx context.Context, opt subscription.UpsertOptions) (*subscription.Subscription, error)
}

type ActivatorOptions struct {
	CustomerStore     CustomerStore
	SubscriptionStore SubscriptionStore
	Logger            *zap.Logger
	// Clock defaults to time.Now and exists so activation math is testable
	Clock func() time.Time
}

// SubscriptionActivator turns a confirmed payment into an entitlement: it
// computes the new expiry, flips the customer to active (or trial) and
// upserts the subscription row keyed by customer.
type SubscriptionActivator struct {
	ActivatorOptions
}

func NewActivator(option ActivatorOptions) (*SubscriptionActivator, error) {
	if option.CustomerStore == nil {
		return nil, fmt.Errorf("nil CustomerStore is invalid")
	}
	if option.SubscriptionStore == nil {
		return nil, fmt.Errorf("nil SubscriptionStore is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Clock == nil {
		option.Clock = time.Now
	}
	return &SubscriptionActivator{
		ActivatorOptions: option,
	}, nil
}

// Activate will (re)activate the subscription of the customer under the given
// plan. It is safe to invoke again for the same payment during a replay: the
// subscription upsert is last-write-wins.
func (a *SubscriptionActivator) Activate(ctx context.Context, cust *customer.Customer, p plan.Plan) (*subscription.Subscription, error) {
	if cust == nil {
		return nil, fmt.Errorf("nil customer is invalid")
	}

	now := a.Clock()
	expiry := subscription.ComputeExpiry(p, now)

	status := customer.StatusActive
	if p == plan.Trial {
		status = customer.StatusTrial
	}

	if err := a.CustomerStore.Activate(ctx, cust.ID, status, expiry); err != nil {
		return nil, extErrors.Wrap(err, "Cannot activate customer")
	}

	sub, err := a.SubscriptionStore.Upsert(ctx, subscription.UpsertOptions{
		CustomerID: cust.ID,
		Plan:       p,
		StartDate:  now,
		EndDate:    expiry,
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot upsert subscription")
	}

	a.Logger.Info("Subscription activated",
		zap.String("CustomerID", cust.ID),
		zap.String("Plan", string(p)),
		zap.Time("ExpiresAt", expiry),
	)

	return sub, nil
}
