/**
 * @description
 * Event types published to RabbitMQ on subscription state transitions.
 * Delivery is at-least-once; consumers must be idempotent on
 * (subscription_id, event kind).
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventExchange is the topic exchange all subscription events are published to.
// The routing key of each message equals the event kind.
const EventExchange = "subscriptions"

// Event kinds for subscription state transitions.
const (
	EventSubscriptionCreated   = "subscription.created"
	EventSubscriptionUpdated   = "subscription.updated"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionExpired   = "subscription.expired"
)

// SubscriptionEvent is the payload carried by every subscription event. It
// reflects the post-transition state of the row.
type SubscriptionEvent struct {
	SubscriptionID uuid.UUID  `json:"subscription_id"`
	UserID         uuid.UUID  `json:"user_id"`
	PlanID         *uuid.UUID `json:"plan_id,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
}
