/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the subscription-service. By defining an
 * interface, the business logic stays decoupled from the PostgreSQL implementation
 * and can be tested against stubs.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/subhub/subscription-service/internal/domain"
)

// Sentinel errors for data-access outcomes. These are business outcomes, not
// transient failures: callers must not retry them.
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExists   = errors.New("subscription already exists")
	ErrEmailTaken           = errors.New("email already registered")
)

// IsRetryable reports whether a store error is worth retrying. Sentinel errors
// describe definitive outcomes; everything else is assumed to be a transient
// driver or network failure.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrPlanNotFound),
		errors.Is(err, ErrSubscriptionNotFound),
		errors.Is(err, ErrSubscriptionExists),
		errors.Is(err, ErrEmailTaken):
		return false
	}
	return true
}

// Repository defines the set of methods for interacting with the database.
//
// All state transitions are expressed as conditional updates guarded on the
// row's current status so that, when two writers race on the same user, only
// one performs the transition. The loser observes ErrSubscriptionNotFound (the
// guard matched no row) or ErrSubscriptionExists (the slot filled first).
type Repository interface {
	// User methods
	CreateUser(ctx context.Context, user *domain.User) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UserExists(ctx context.Context, userID uuid.UUID) (bool, error)

	// Plan catalog methods
	GetPlan(ctx context.Context, planID uuid.UUID) (*domain.Plan, error)
	ListPlans(ctx context.Context) ([]domain.Plan, error)

	// Subscription slot methods
	FindSubscriptionByUserID(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)
	FindOrCreatePlaceholder(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)
	CreateActiveSubscription(ctx context.Context, userID, planID uuid.UUID, start time.Time, end *time.Time) (*domain.Subscription, error)
	ReactivateInactive(ctx context.Context, userID, planID uuid.UUID, start time.Time, end *time.Time) (*domain.Subscription, error)
	SwitchPlan(ctx context.Context, userID, planID uuid.UUID, start time.Time, end *time.Time) (*domain.Subscription, error)
	CancelActive(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)
	MarkExpired(ctx context.Context, subscriptionID uuid.UUID) (*domain.Subscription, error)
	FindExpiredActive(ctx context.Context, now time.Time) ([]domain.Subscription, error)
}
