package repository

import (
	"context"
	"time"

	"account-platform/backend/internal/account/domain"
)

// Repository defines persistence for accounts.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	// GetByIdentifier resolves an account by username or email.
	GetByIdentifier(ctx context.Context, identifier string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	Create(ctx context.Context, a *domain.Account) error
	// RecordFailedAttempt atomically increments the failed-login counter and
	// applies the lock when the counter reaches threshold. Single statement,
	// committed independently of any surrounding operation. Returns the new
	// counter value and whether the account is now locked.
	RecordFailedAttempt(ctx context.Context, id string, threshold int, lockUntil time.Time) (attempts int, locked bool, err error)
	// RecordLoginSuccess resets the failed-login counter, clears the lock,
	// and stamps last_login_at.
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error
	RecordLogout(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error
	SetEmailVerified(ctx context.Context, id string, at time.Time) error
	SetEnabled(ctx context.Context, id string, enabled bool, at time.Time) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
}
