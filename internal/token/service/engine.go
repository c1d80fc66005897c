// Package service implements the token store and rotation engine: lineage
// issuance, rotation with reuse detection, and cascading revocation.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"account-platform/backend/internal/security"
	sessiondomain "account-platform/backend/internal/session/domain"
	"account-platform/backend/internal/token/domain"
	"account-platform/backend/internal/token/repository"
)

// Sentinel errors for the rotation engine; callers map them to their own taxonomy.
var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenRevoked  = errors.New("token revoked")
	// ErrTokenReused is security-significant: by the time it is returned the
	// whole lineage has been revoked and the linked session terminated.
	ErrTokenReused = errors.New("token reuse detected; lineage revoked")
)

// TokenRepo is the minimal token repository needed by the engine.
type TokenRepo interface {
	GetByValueHash(ctx context.Context, valueHash string) (*domain.Token, error)
	Create(ctx context.Context, t *domain.Token) error
	HasChild(ctx context.Context, id string) (bool, error)
	MarkReused(ctx context.Context, id string, at time.Time) error
	RevokeLineage(ctx context.Context, rootTokenID string, at time.Time) error
	RevokeAllForAccount(ctx context.Context, accountID string, at time.Time) error
}

// SessionTerminator lets the engine terminate the session linked to a lineage
// when a reuse event revokes it. Satisfied by the session repository.
type SessionTerminator interface {
	TerminateByRootToken(ctx context.Context, rootTokenID string, reason sessiondomain.TerminationReason, at time.Time) error
}

// Issued pairs a freshly created token with its opaque value. The value
// leaves the engine exactly once, here.
type Issued struct {
	Token *domain.Token
	Value string
}

// Engine issues, rotates, and revokes token lineages.
type Engine struct {
	tokens   TokenRepo
	sessions SessionTerminator
	// refreshTTL is the per-rotation lifetime of refresh tokens.
	refreshTTL time.Duration
	now        func() time.Time
}

// NewEngine returns an Engine with the given dependencies. refreshTTL applies
// to every token created by Rotate; IssueRoot takes its TTL per call.
func NewEngine(tokens TokenRepo, sessions SessionTerminator, refreshTTL time.Duration) *Engine {
	return &Engine{
		tokens:     tokens,
		sessions:   sessions,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// IssueRoot creates a new rotation-root token of the given kind and returns
// it with its opaque value. sessionID may be empty for tokens not bound to a
// session (verification, reset).
func (e *Engine) IssueRoot(ctx context.Context, accountID, sessionID string, kind domain.Kind, ttl time.Duration) (*Issued, error) {
	value, err := security.GenerateTokenValue()
	if err != nil {
		return nil, err
	}
	now := e.now()
	id := uuid.New().String()
	t := &domain.Token{
		ID:          id,
		ValueHash:   security.HashTokenValue(value),
		Kind:        kind,
		AccountID:   accountID,
		SessionID:   sessionID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
		RootTokenID: id, // self-referential for the root
	}
	if err := e.tokens.Create(ctx, t); err != nil {
		return nil, err
	}
	return &Issued{Token: t, Value: value}, nil
}

// Lookup resolves the presented value to its token. Returns ErrTokenNotFound
// when no token carries that value.
func (e *Engine) Lookup(ctx context.Context, value string) (*domain.Token, error) {
	t, err := e.tokens.GetByValueHash(ctx, security.HashTokenValue(value))
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTokenNotFound
	}
	return t, nil
}

// Rotate exchanges a live refresh token for its successor.
//
// The presented token must be the lineage's live leaf. A presented token that
// already has a successor — or that loses the insert race against a
// concurrent rotation — is a reuse event: the whole lineage is revoked, the
// presented token marked reused, and the linked session terminated with
// reason "revoked", all before ErrTokenReused is returned.
//
// Returns the new token on success. The presented token is returned whenever
// it could be resolved, so callers can reach its session on failure paths.
func (e *Engine) Rotate(ctx context.Context, value string) (issued *Issued, presented *domain.Token, err error) {
	t, err := e.tokens.GetByValueHash(ctx, security.HashTokenValue(value))
	if err != nil {
		return nil, nil, err
	}
	if t == nil || t.Kind != domain.KindRefresh {
		return nil, nil, ErrTokenNotFound
	}
	if t.Revoked {
		return nil, t, ErrTokenRevoked
	}
	now := e.now()
	if !t.ExpiresAt.After(now) {
		return nil, t, ErrTokenExpired
	}

	superseded, err := e.tokens.HasChild(ctx, t.ID)
	if err != nil {
		return nil, t, err
	}
	if superseded {
		if err := e.cascadeReuse(ctx, t); err != nil {
			return nil, t, err
		}
		return nil, t, ErrTokenReused
	}

	newValue, err := security.GenerateTokenValue()
	if err != nil {
		return nil, t, err
	}
	parentID := t.ID
	child := &domain.Token{
		ID:            uuid.New().String(),
		ValueHash:     security.HashTokenValue(newValue),
		Kind:          domain.KindRefresh,
		AccountID:     t.AccountID,
		SessionID:     t.SessionID,
		IssuedAt:      now,
		ExpiresAt:     now.Add(e.refreshTTL),
		RootTokenID:   t.RootTokenID,
		ParentTokenID: &parentID,
	}
	if err := e.tokens.Create(ctx, child); err != nil {
		if errors.Is(err, repository.ErrParentSuperseded) {
			// Lost the race: from this caller's view the presented token is
			// no longer the live leaf, which is exactly a reuse event.
			if cerr := e.cascadeReuse(ctx, t); cerr != nil {
				return nil, t, cerr
			}
			return nil, t, ErrTokenReused
		}
		return nil, t, err
	}
	return &Issued{Token: child, Value: newValue}, t, nil
}

// cascadeReuse performs the mandatory reuse side effects. It must complete
// before ErrTokenReused surfaces to any caller.
func (e *Engine) cascadeReuse(ctx context.Context, t *domain.Token) error {
	now := e.now()
	if err := e.tokens.MarkReused(ctx, t.ID, now); err != nil {
		return fmt.Errorf("mark reused: %w", err)
	}
	if err := e.tokens.RevokeLineage(ctx, t.RootTokenID, now); err != nil {
		return fmt.Errorf("revoke lineage: %w", err)
	}
	if err := e.sessions.TerminateByRootToken(ctx, t.RootTokenID, sessiondomain.ReasonRevoked, now); err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}
	return nil
}

// Consume validates and spends a one-shot token (verification, reset): the
// token is revoked as part of the same call, so a second presentation fails
// with ErrTokenRevoked.
func (e *Engine) Consume(ctx context.Context, value string, kind domain.Kind) (*domain.Token, error) {
	t, err := e.tokens.GetByValueHash(ctx, security.HashTokenValue(value))
	if err != nil {
		return nil, err
	}
	if t == nil || t.Kind != kind {
		return nil, ErrTokenNotFound
	}
	if t.Revoked {
		return nil, ErrTokenRevoked
	}
	if !t.ExpiresAt.After(e.now()) {
		return nil, ErrTokenExpired
	}
	if err := e.tokens.RevokeLineage(ctx, t.RootTokenID, e.now()); err != nil {
		return nil, err
	}
	return t, nil
}

// RevokeLineage revokes every token sharing the given root id.
func (e *Engine) RevokeLineage(ctx context.Context, rootTokenID string) error {
	return e.tokens.RevokeLineage(ctx, rootTokenID, e.now())
}

// RevokeAllForAccount revokes every lineage owned by the account. Used on
// password change, account deletion, and admin action.
func (e *Engine) RevokeAllForAccount(ctx context.Context, accountID string) error {
	return e.tokens.RevokeAllForAccount(ctx, accountID, e.now())
}
