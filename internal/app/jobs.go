/**
 * @description
 * Scheduled job implementations for the subscription-service.
 */
package app

import (
	"context"
	"log/slog"
)

// SubscriptionExpirer is the slice of the service the sweep job needs.
type SubscriptionExpirer interface {
	ExpireSubscriptions(ctx context.Context) error
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	service SubscriptionExpirer
	logger  *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(service SubscriptionExpirer, logger *slog.Logger) *Jobs {
	return &Jobs{service: service, logger: logger}
}

// RunExpirySweep expires every overdue ACTIVE subscription and publishes the
// corresponding events. It exists for subscriptions nobody is actively polling;
// interactive reads already expire lazily.
func (j *Jobs) RunExpirySweep() {
	j.logger.Info("starting subscription expiry sweep")
	ctx := context.Background()

	if err := j.service.ExpireSubscriptions(ctx); err != nil {
		j.logger.Error("subscription expiry sweep failed", "error", err)
		return
	}

	j.logger.Info("subscription expiry sweep finished")
}
