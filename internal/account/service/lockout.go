// Package service holds the per-account failed-login security state machine.
package service

import (
	"context"
	"time"

	"account-platform/backend/internal/account/domain"
)

// AccountStore is the minimal account repository needed by the lockout state machine.
type AccountStore interface {
	RecordFailedAttempt(ctx context.Context, id string, threshold int, lockUntil time.Time) (attempts int, locked bool, err error)
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error
}

// Lockout tracks consecutive failed logins and locks an account once the
// counter reaches the configured threshold. Counting and locking happen in a
// single atomic statement, committed independently of the surrounding login
// attempt, so a brute-force attempt is never free when the outer operation
// fails or rolls back.
type Lockout struct {
	accounts  AccountStore
	threshold int
	duration  time.Duration
	now       func() time.Time
}

// NewLockout returns a Lockout with the given threshold (attempts until lock)
// and lock duration. Both are policy values from config.
func NewLockout(accounts AccountStore, threshold int, duration time.Duration) *Lockout {
	return &Lockout{
		accounts:  accounts,
		threshold: threshold,
		duration:  duration,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RecordFailure counts one failed attempt for the account and returns whether
// the account is locked after this attempt.
func (l *Lockout) RecordFailure(ctx context.Context, accountID string) (bool, error) {
	until := l.now().Add(l.duration)
	_, locked, err := l.accounts.RecordFailedAttempt(ctx, accountID, l.threshold, until)
	return locked, err
}

// RecordSuccess resets the counter to zero, clears the lock, and stamps the
// last-login time. The lock flag is cleared only here, never on an expiry read.
func (l *Lockout) RecordSuccess(ctx context.Context, accountID string) error {
	return l.accounts.RecordLoginSuccess(ctx, accountID, l.now())
}

// IsLocked reports whether the account currently rejects login attempts.
// True only while locked with an unexpired window; an elapsed window reads
// as unlocked without mutating the record.
func (l *Lockout) IsLocked(a *domain.Account) bool {
	if a == nil || !a.Locked || a.LockedUntil == nil {
		return false
	}
	return l.now().Before(*a.LockedUntil)
}

// LockRemaining returns how long the account stays locked, or zero when it is
// not locked. Exposed to callers so AccountLocked failures can carry an ETA.
func (l *Lockout) LockRemaining(a *domain.Account) time.Duration {
	if !l.IsLocked(a) {
		return 0
	}
	return a.LockedUntil.Sub(l.now())
}
