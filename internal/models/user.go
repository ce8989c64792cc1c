package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is a member of the local user directory. The licensing core reads
// users to compute quota usage and mirror the roster to the licensing
// server; it never mutates them beyond create/deactivate glue.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Active    bool      `json:"active"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUser creates a new active User with the given details.
func NewUser(email, firstName, lastName string) *User {
	now := time.Now()
	return &User{
		ID:        uuid.New(),
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// FullName returns the user's display name.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
