/**
 * @description
 * This file contains the core business logic for the subscription-service. The
 * `Service` struct orchestrates the subscription lifecycle, coordinating the
 * database repository, the retry executor, and the RabbitMQ event producer.
 *
 * Key features:
 * - Implements the lifecycle state machine: create, get (with lazy expiry),
 *   update, cancel, and the periodic expiry sweep.
 * - Wraps every store operation in a bounded-retry executor.
 * - Publishes an event after every committed state transition; publish failures
 *   are logged and dropped, never propagated (at-least-once delivery).
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/subhub/subscription-service/internal/domain"
	"github.com/subhub/subscription-service/internal/store"
	"github.com/subhub/subscription-service/pkg/rabbitmq"
	"github.com/subhub/subscription-service/pkg/retry"
)

// publishTimeout bounds each fire-and-forget publish. It is derived from
// context.Background(), not the request context, so a committed transition's
// event is still attempted when the caller disconnects.
const publishTimeout = 5 * time.Second

// ErrSubscriptionConflict is returned when a create request hits a slot that is
// already occupied by an ACTIVE, CANCELLED, or EXPIRED subscription.
var ErrSubscriptionConflict = errors.New("subscription already exists")

// Service provides the business logic for subscription lifecycle management.
type Service struct {
	repo     store.Repository
	producer rabbitmq.Publisher
	logger   *slog.Logger
	exec     retry.Executor
	now      func() time.Time
}

// NewService creates a new subscription service.
func NewService(repo store.Repository, producer rabbitmq.Publisher, logger *slog.Logger, exec retry.Executor) *Service {
	return &Service{
		repo:     repo,
		producer: producer,
		logger:   logger,
		exec:     exec,
		now:      time.Now,
	}
}

// CreateSubscription activates a plan for the user. If the user's slot holds an
// INACTIVE placeholder it is reactivated in place, reusing the row id; if no row
// exists a new ACTIVE one is created. Any other occupied slot is a conflict.
func (s *Service) CreateSubscription(ctx context.Context, userID, planID uuid.UUID) (*domain.Subscription, error) {
	if err := s.ensureUserExists(ctx, userID); err != nil {
		return nil, err
	}

	plan, err := retry.Do(ctx, s.exec, func(ctx context.Context) (*domain.Plan, error) {
		return s.repo.GetPlan(ctx, planID)
	})
	if err != nil {
		return nil, err
	}

	start, end := s.periodFor(plan)

	sub, err := retry.Do(ctx, s.exec, func(ctx context.Context) (*domain.Subscription, error) {
		return s.repo.ReactivateInactive(ctx, userID, plan.ID, start, end)
	})
	if errors.Is(err, store.ErrSubscriptionNotFound) {
		// No reactivatable placeholder; try to claim an empty slot.
		sub, err = retry.Do(ctx, s.exec, func(ctx context.Context) (*domain.Subscription, error) {
			return s.repo.CreateActiveSubscription(ctx, userID, plan.ID, start, end)
		})
		if errors.Is(err, store.ErrSubscriptionExists) {
			return nil, ErrSubscriptionConflict
		}
	}
	if err != nil {
		return nil, err
	}

	s.publish(domain.EventSubscriptionCreated, sub)
	return sub, nil
}

// GetSubscription returns the user's subscription, materializing an INACTIVE
// placeholder row on first touch. An ACTIVE subscription whose end date has
// passed is expired before being returned, so callers never observe a stale
// ACTIVE status between sweep runs. Plan details are attached only when a plan
// is set on the slot.
func (s *Service) GetSubscription(ctx context.Context, userID uuid.UUID) (*domain.SubscriptionView, error) {
	if err := s.ensureUserExists(ctx, userID); err != nil {
		return nil, err
	}

	sub, err := retry.Do(ctx, s.exec, func(ctx context.Context) (*domain.Subscription, error) {
		return s.repo.FindOrCreatePlaceholder(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	if sub.Status == domain.StatusActive && sub.EndDate != nil && sub.EndDate.Before(s.now()) {
		sub, err = s.expire(ctx, sub)
		if err != nil {
			return nil, err
		}
	}

	view := &domain.SubscriptionView{
		ID:        sub.ID,
		Status:    sub.Status,
		StartDate: sub.StartDate,
		EndDate:   sub.EndDate,
	}

	if sub.PlanID != nil {
		plan, err := retry.Do(ctx, s.exec, func(ctx context.Context) (*domain.Plan, error) {
			return s.repo.GetPlan(ctx, *sub.PlanID)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load plan details: %w", err)
		}
		view.Plan = &domain.PlanDetails{
			Name:     plan.Name,
			Price:    plan.Price,
			Features: plan.Features,
			Duration: plan.DurationDays,
		}
	}

	return view, nil
}

// UpdateSubscription switches an existing ACTIVE, CANCELLED, or EXPIRED
// subscription onto a new plan. The billing clock restarts from now regardless
// of the previous period.
func (s *Service) UpdateSubscription(ctx context.Context, userID, planID uuid.UUID) (*domain.Subscription, error) {
	plan, err := retry.Do(ctx, s.exec, func(ctx context.Context) (*domain.Plan, error) {
		return s.repo.GetPlan(ctx, planID)
	})
	if err != nil {
		return nil, err
	}

	start, end := s.periodFor(plan)

	sub, err := retry.Do(ctx, s.exec, func(ctx context.Context) (*domain.Subscription, error) {
		return s.repo.SwitchPlan(ctx, userID, plan.ID, start, end)
	})
	if err != nil {
		return nil, err
	}

	s.publish(domain.EventSubscriptionUpdated, sub)
	return sub, nil
}

// CancelSubscription cancels the user's ACTIVE subscription. Dates are left
// untouched; only an ACTIVE subscription can be cancelled.
func (s *Service) CancelSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	sub, err := retry.Do(ctx, s.exec, func(ctx context.Context) (*domain.Subscription, error) {
		return s.repo.CancelActive(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	s.publish(domain.EventSubscriptionCancelled, sub)
	return sub, nil
}

// ExpireSubscriptions transitions every overdue ACTIVE subscription to EXPIRED
// and publishes an event per transition. One row's failure does not abort the
// sweep for the others.
func (s *Service) ExpireSubscriptions(ctx context.Context) error {
	overdue, err := retry.Do(ctx, s.exec, func(ctx context.Context) ([]domain.Subscription, error) {
		return s.repo.FindExpiredActive(ctx, s.now())
	})
	if err != nil {
		return fmt.Errorf("failed to find expired subscriptions: %w", err)
	}

	for i := range overdue {
		if _, err := s.expire(ctx, &overdue[i]); err != nil {
			s.logger.Error("failed to expire subscription", "subscription_id", overdue[i].ID, "error", err)
		}
	}
	return nil
}

// ListPlans returns the purchasable plan catalog.
func (s *Service) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	return retry.Do(ctx, s.exec, func(ctx context.Context) ([]domain.Plan, error) {
		return s.repo.ListPlans(ctx)
	})
}

// expire performs the guarded ACTIVE -> EXPIRED transition for a subscription
// believed to be overdue. Only the writer that wins the conditional update
// publishes the event; a loser re-reads the row so callers still observe the
// post-transition state.
func (s *Service) expire(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	expired, err := retry.Do(ctx, s.exec, func(ctx context.Context) (*domain.Subscription, error) {
		return s.repo.MarkExpired(ctx, sub.ID)
	})
	if err == nil {
		s.publish(domain.EventSubscriptionExpired, expired)
		return expired, nil
	}
	if errors.Is(err, store.ErrSubscriptionNotFound) {
		// Another writer expired it first; fetch the settled state.
		return retry.Do(ctx, s.exec, func(ctx context.Context) (*domain.Subscription, error) {
			return s.repo.FindSubscriptionByUserID(ctx, sub.UserID)
		})
	}
	return nil, err
}

func (s *Service) ensureUserExists(ctx context.Context, userID uuid.UUID) error {
	exists, err := retry.Do(ctx, s.exec, func(ctx context.Context) (bool, error) {
		return s.repo.UserExists(ctx, userID)
	})
	if err != nil {
		return fmt.Errorf("failed to check user existence: %w", err)
	}
	if !exists {
		return store.ErrUserNotFound
	}
	return nil
}

// periodFor computes the subscription period starting now. Plans without a
// duration yield a nil end date: the subscription never expires.
func (s *Service) periodFor(plan *domain.Plan) (time.Time, *time.Time) {
	start := s.now().UTC()
	if plan.DurationDays == nil {
		return start, nil
	}
	end := start.AddDate(0, 0, *plan.DurationDays)
	return start, &end
}

func (s *Service) publish(kind string, sub *domain.Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	event := domain.SubscriptionEvent{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		PlanID:         sub.PlanID,
		StartDate:      sub.StartDate,
		EndDate:        sub.EndDate,
	}
	if err := s.producer.Publish(ctx, domain.EventExchange, kind, event); err != nil {
		// The transition already committed; dropping the event is acceptable
		// under the at-least-once contract.
		s.logger.Error("failed to publish subscription event",
			"event", kind, "subscription_id", sub.ID, "error", err)
	}
}
