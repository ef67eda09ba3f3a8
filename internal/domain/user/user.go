// Package user holds the account directory consumed by checkout and
// favorites. Account management itself (registration, authentication) lives
// outside this service.
package user

import (
	"context"
	"fmt"
	"time"
)

// User is a registered account. Orders and favorites reference users by ID.
type User struct {
	ID        int64
	Email     string
	Name      string
	CreatedAt time.Time
}

// NotFoundError indicates no account exists for the given email.
type NotFoundError struct {
	Email string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("user %s not found", e.Email)
}

// Directory resolves requester identities to accounts.
type Directory interface {
	// ByEmail returns the account for the given email. The match is
	// case-insensitive. Returns *NotFoundError when absent.
	ByEmail(ctx context.Context, email string) (*User, error)
}
