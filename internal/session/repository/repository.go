package repository

import (
	"context"
	"time"

	"account-platform/backend/internal/session/domain"
)

// Repository defines persistence for sessions.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetByRootToken(ctx context.Context, rootTokenID string) (*domain.Session, error)
	ListActiveByAccount(ctx context.Context, accountID string) ([]*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	Terminate(ctx context.Context, id string, reason domain.TerminationReason, at time.Time) error
	TerminateByRootToken(ctx context.Context, rootTokenID string, reason domain.TerminationReason, at time.Time) error
	TerminateAllForAccount(ctx context.Context, accountID string, reason domain.TerminationReason, at time.Time) error
	// TerminateExpired deactivates active sessions whose lineage has no live
	// token left (retention sweep).
	TerminateExpired(ctx context.Context, at time.Time) (int64, error)
	// Touch updates last_accessed_at and last_ip_address on refresh.
	Touch(ctx context.Context, id, ip string, at time.Time) error
}
