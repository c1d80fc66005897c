package domain

import (
	"errors"
	"time"
)

// Account is the identity and security envelope for one user of the platform.
// The long-term profile lives elsewhere; this record carries only what the
// credential and session lifecycle needs.
type Account struct {
	ID            string
	Username      string
	Email         string
	PasswordHash  string
	Roles         []string
	Enabled       bool
	Deleted       bool // soft delete; rows are never removed
	EmailVerified bool

	// Lockout state. Locked implies LockedUntil was in the future when the
	// lock was applied; an elapsed window reads as unlocked but the flag is
	// cleared only on the next successful login.
	Locked              bool
	LockedUntil         *time.Time
	FailedLoginAttempts int

	LastLoginAt  *time.Time
	LastLogoutAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate validates the account for persistence. Returns an error describing the first validation failure.
func (a *Account) Validate() error {
	if a.Username == "" {
		return errors.New("username is required")
	}
	if a.Email == "" {
		return errors.New("email is required")
	}
	if a.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}

// HasRole reports whether the account carries the given role.
func (a *Account) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}
