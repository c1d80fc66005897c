package repository

import (
	"context"
	"errors"
	"time"

	"account-platform/backend/internal/token/domain"
)

// ErrParentSuperseded is returned by Create when the new token's parent
// already has a child. Exactly one of two concurrent rotations of the same
// token can win; the loser observes this error and must treat the
// presentation as a reuse event.
var ErrParentSuperseded = errors.New("parent token already superseded")

// Repository defines persistence for tokens. The table is the arena for the
// rotation lineage tree: flat rows keyed by id, linked by root/parent ids.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Token, error)
	GetByValueHash(ctx context.Context, valueHash string) (*domain.Token, error)
	// Create inserts the token. A non-root insert whose parent already has a
	// child fails with ErrParentSuperseded.
	Create(ctx context.Context, t *domain.Token) error
	// HasChild reports whether a successor referencing id as parent exists.
	HasChild(ctx context.Context, id string) (bool, error)
	MarkReused(ctx context.Context, id string, at time.Time) error
	RevokeLineage(ctx context.Context, rootTokenID string, at time.Time) error
	RevokeAllForAccount(ctx context.Context, accountID string, at time.Time) error
	// DeleteExpiredRevoked removes revoked or expired tokens older than
	// cutoff. Retention only; never called on live lineages.
	DeleteExpiredRevoked(ctx context.Context, cutoff time.Time) (int64, error)
}
