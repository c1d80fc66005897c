// Package service implements the session registry: one record per logical
// login, linked 1:1 to the token lineage that authorizes it.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"account-platform/backend/internal/session/domain"
)

// ErrSessionNotFound is returned when a session id cannot be resolved.
var ErrSessionNotFound = errors.New("session not found")

// SessionRepo is the minimal session repository needed by the registry.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetByRootToken(ctx context.Context, rootTokenID string) (*domain.Session, error)
	ListActiveByAccount(ctx context.Context, accountID string) ([]*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	Terminate(ctx context.Context, id string, reason domain.TerminationReason, at time.Time) error
	TerminateAllForAccount(ctx context.Context, accountID string, reason domain.TerminationReason, at time.Time) error
	Touch(ctx context.Context, id, ip string, at time.Time) error
}

// TokenRevoker revokes the token lineages backing sessions. Satisfied by the
// token engine. Terminating a session without revoking its lineage would
// leave a usable, orphaned refresh token, so the registry always pairs them.
type TokenRevoker interface {
	RevokeLineage(ctx context.Context, rootTokenID string) error
	RevokeAllForAccount(ctx context.Context, accountID string) error
}

// Registry creates, lists, and terminates sessions.
type Registry struct {
	sessions SessionRepo
	tokens   TokenRevoker
	now      func() time.Time
}

// NewRegistry returns a Registry with the given dependencies.
func NewRegistry(sessions SessionRepo, tokens TokenRevoker) *Registry {
	return &Registry{
		sessions: sessions,
		tokens:   tokens,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create opens an active session for the account, bound to the given lineage.
// id may be pre-generated by the caller (so tokens can reference the session);
// empty means generate one.
func (r *Registry) Create(ctx context.Context, id, accountID, rootTokenID string, meta domain.ClientMetadata) (*domain.Session, error) {
	if id == "" {
		id = uuid.New().String()
	}
	s := &domain.Session{
		ID:            id,
		AccountID:     accountID,
		RootTokenID:   rootTokenID,
		Active:        true,
		UserAgent:     meta.UserAgent,
		DeviceName:    meta.DeviceName,
		IPAddress:     meta.IPAddress,
		LastIPAddress: meta.IPAddress,
		CreatedAt:     r.now(),
	}
	if err := r.sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the session for id. Returns ErrSessionNotFound if it does not exist.
func (r *Registry) Get(ctx context.Context, id string) (*domain.Session, error) {
	s, err := r.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// FindActiveByAccount lists the account's active sessions.
func (r *Registry) FindActiveByAccount(ctx context.Context, accountID string) ([]*domain.Session, error) {
	return r.sessions.ListActiveByAccount(ctx, accountID)
}

// FindByRootToken resolves the session backed by the given lineage, or nil
// when the lineage never opened one. The root-token link is 1:1 and
// authoritative; callers use it to reach a session from any token in the
// chain.
func (r *Registry) FindByRootToken(ctx context.Context, rootTokenID string) (*domain.Session, error) {
	return r.sessions.GetByRootToken(ctx, rootTokenID)
}

// Terminate deactivates the session and revokes its backing lineage in the
// same logical operation. Returns ErrSessionNotFound for unknown ids.
func (r *Registry) Terminate(ctx context.Context, id string, reason domain.TerminationReason) error {
	s, err := r.sessions.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if s == nil {
		return ErrSessionNotFound
	}
	if err := r.tokens.RevokeLineage(ctx, s.RootTokenID); err != nil {
		return err
	}
	return r.sessions.Terminate(ctx, id, reason, r.now())
}

// TerminateAllForAccount deactivates every active session of the account and
// revokes every lineage it owns, in the same logical operation.
func (r *Registry) TerminateAllForAccount(ctx context.Context, accountID string, reason domain.TerminationReason) error {
	if err := r.tokens.RevokeAllForAccount(ctx, accountID); err != nil {
		return err
	}
	return r.sessions.TerminateAllForAccount(ctx, accountID, reason, r.now())
}

// Touch records a successful refresh: last-accessed time and last-seen IP.
func (r *Registry) Touch(ctx context.Context, id, ip string) error {
	return r.sessions.Touch(ctx, id, ip, r.now())
}
