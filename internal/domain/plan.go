package domain

import "github.com/google/uuid"

// Plan is a purchasable catalog entry. Plans are seeded via migrations and
// read-only to this service.
type Plan struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Price        float64   `json:"price"`
	Features     []string  `json:"features"`
	DurationDays *int      `json:"duration"` // nil means subscriptions to this plan never expire
}
