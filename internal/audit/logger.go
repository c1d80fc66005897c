package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"account-platform/backend/internal/audit/domain"
	auditrepo "account-platform/backend/internal/audit/repository"
)

// SentinelAccountID is the account_id used for audit events that have no
// resolvable account (e.g. login_failure on an unknown identifier).
const SentinelAccountID = "_unknown"

// Audit actions written by the auth and session code paths.
const (
	ActionLoginSuccess      = "login_success"
	ActionLoginFailure      = "login_failure"
	ActionAccountLocked     = "account_locked"
	ActionTokenRefresh      = "token_refresh"
	ActionTokenReuse        = "token_reuse"
	ActionLogout            = "logout"
	ActionGlobalLogout      = "global_logout"
	ActionSessionTerminated = "session_terminated"
	ActionPasswordChanged   = "password_changed"
	ActionAccountDeleted    = "account_deleted"
)

// IPExtractor returns the client IP from the request context (e.g. gRPC metadata or peer).
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event with explicit action/resource.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, accountID, action, resource, metadata string)
}

// Logger implements AuditLogger using the audit repository and an optional IP extractor.
type Logger struct {
	repo        auditrepo.Repository
	ipExtractor IPExtractor
}

// NewLogger returns an AuditLogger that persists to repo and uses ipExtractor for client IP.
// ipExtractor may be nil; then IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, ipExtractor IPExtractor) *Logger {
	return &Logger{repo: repo, ipExtractor: ipExtractor}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, accountID, action, resource, metadata string) {
	if l == nil || l.repo == nil {
		return
	}
	ip := "unknown"
	if l.ipExtractor != nil {
		ip = l.ipExtractor(ctx)
	}
	if accountID == "" {
		accountID = SentinelAccountID
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Action:    action,
		Resource:  resource,
		IP:        ip,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s/%s: %v", action, resource, err)
	}
}
