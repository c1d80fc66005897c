package service

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the auth service; handlers map them to gRPC codes.
var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrAccountDisabled        = errors.New("account disabled")
	ErrAccountDeleted         = errors.New("account deleted")
	ErrAccountLocked          = errors.New("account locked")
	ErrLoginDenied            = errors.New("login denied by policy")
	ErrUsernameTaken          = errors.New("username already taken")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
)

// AccountLockedError carries when the lock expires and how long remains, so
// handlers can surface a retry hint. errors.Is(err, ErrAccountLocked) matches
// it, so callers can branch without unwrapping.
type AccountLockedError struct {
	Until      time.Time
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.Format(time.RFC3339))
}

func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
