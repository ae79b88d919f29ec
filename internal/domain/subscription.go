/**
 * @description
 * This file defines the core domain models for the subscription-service.
 * It includes the Subscription struct that maps to the database table, the
 * status enum describing the subscription lifecycle, and the view returned
 * to API callers.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status describes where a subscription sits in its lifecycle.
type Status string

const (
	// StatusInactive is the synthetic default state: a row exists for the user
	// but no plan has ever been attached to it.
	StatusInactive Status = "INACTIVE"
	// StatusActive means the user currently holds a plan.
	StatusActive Status = "ACTIVE"
	// StatusCancelled means the user explicitly cancelled an active plan.
	StatusCancelled Status = "CANCELLED"
	// StatusExpired means the plan's end date passed while the subscription was active.
	StatusExpired Status = "EXPIRED"
)

// Subscription represents a user's single subscription slot. At most one row
// exists per user; the row is reused across its whole lifetime and never deleted.
type Subscription struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	PlanID    *uuid.UUID `json:"plan_id"` // nil only in the INACTIVE placeholder state
	Status    Status     `json:"status"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"` // nil means the subscription never expires
}

// PlanDetails is the subset of plan fields attached to a subscription view.
type PlanDetails struct {
	Name     string   `json:"name"`
	Price    float64  `json:"price"`
	Features []string `json:"features"`
	Duration *int     `json:"duration"`
}

// SubscriptionView is the shape returned to clients asking for their
// subscription. Plan is nil when no plan has been set on the slot.
type SubscriptionView struct {
	ID        uuid.UUID    `json:"id"`
	Status    Status       `json:"status"`
	StartDate *time.Time   `json:"start_date"`
	EndDate   *time.Time   `json:"end_date"`
	Plan      *PlanDetails `json:"plan"`
}
