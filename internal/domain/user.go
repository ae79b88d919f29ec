package domain

import "github.com/google/uuid"

// User is an account holder. Password hashes never leave the service.
type User struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
}
