package domain

import "time"

// User is the domain model for a registered identity.
//
// Role is free-text by contract: callers register with whatever role string
// they send (e.g. "USER", "ADMIN") and it is carried into issued tokens
// unchanged. No allow-list is applied here.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
