package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"account-platform/backend/internal/session/domain"
)

// PostgresRepository persists sessions with hand-written SQL over sqlx.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type sessionRow struct {
	ID                string         `db:"id"`
	AccountID         string         `db:"account_id"`
	RootTokenID       string         `db:"root_token_id"`
	Active            bool           `db:"active"`
	TerminationReason sql.NullString `db:"termination_reason"`
	TerminatedAt      sql.NullTime   `db:"terminated_at"`
	UserAgent         string         `db:"user_agent"`
	DeviceName        string         `db:"device_name"`
	IPAddress         string         `db:"ip_address"`
	LastIPAddress     string         `db:"last_ip_address"`
	CreatedAt         time.Time      `db:"created_at"`
	LastAccessedAt    sql.NullTime   `db:"last_accessed_at"`
}

const sessionColumns = `id, account_id, root_token_id, active, termination_reason, terminated_at,
	user_agent, device_name, ip_address, last_ip_address, created_at, last_accessed_at`

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rowToSession(&row), nil
}

// GetByRootToken returns the session backed by the given lineage, or nil if none exists.
func (r *PostgresRepository) GetByRootToken(ctx context.Context, rootTokenID string) (*domain.Session, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+sessionColumns+` FROM sessions WHERE root_token_id = $1`, rootTokenID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rowToSession(&row), nil
}

// ListActiveByAccount returns the account's active sessions, newest first.
func (r *PostgresRepository) ListActiveByAccount(ctx context.Context, accountID string) ([]*domain.Session, error) {
	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE account_id = $1 AND active ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Session, len(rows))
	for i := range rows {
		out[i] = rowToSession(&rows[i])
	}
	return out, nil
}

// Create persists the session to the database. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.AccountID, s.RootTokenID, s.Active,
		reasonToNull(s.TerminationReason), timeToNull(s.TerminatedAt),
		s.UserAgent, s.DeviceName, s.IPAddress, s.LastIPAddress,
		s.CreatedAt, timeToNull(s.LastAccessedAt))
	return err
}

// Terminate deactivates the session with the given id. Sessions already
// terminated keep their original reason and timestamp.
func (r *PostgresRepository) Terminate(ctx context.Context, id string, reason domain.TerminationReason, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET active = FALSE, termination_reason = $2, terminated_at = $3
		 WHERE id = $1 AND active`, id, string(reason), at)
	return err
}

// TerminateByRootToken deactivates the session backed by the given lineage.
func (r *PostgresRepository) TerminateByRootToken(ctx context.Context, rootTokenID string, reason domain.TerminationReason, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET active = FALSE, termination_reason = $2, terminated_at = $3
		 WHERE root_token_id = $1 AND active`, rootTokenID, string(reason), at)
	return err
}

// TerminateAllForAccount deactivates every active session of the account.
func (r *PostgresRepository) TerminateAllForAccount(ctx context.Context, accountID string, reason domain.TerminationReason, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET active = FALSE, termination_reason = $2, terminated_at = $3
		 WHERE account_id = $1 AND active`, accountID, string(reason), at)
	return err
}

// TerminateExpired deactivates active sessions whose lineage has no
// unrevoked, unexpired token left. Run by the retention worker.
func (r *PostgresRepository) TerminateExpired(ctx context.Context, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET active = FALSE, termination_reason = $1, terminated_at = $2
		 WHERE active AND NOT EXISTS (
			SELECT 1 FROM tokens
			WHERE tokens.root_token_id = sessions.root_token_id
			  AND NOT tokens.revoked AND tokens.expires_at > $2
		 )`, string(domain.ReasonExpired), at)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Touch updates the session's last-accessed timestamp and last-seen IP.
func (r *PostgresRepository) Touch(ctx context.Context, id, ip string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_accessed_at = $2,
			last_ip_address = CASE WHEN $3 <> '' THEN $3 ELSE last_ip_address END
		 WHERE id = $1`, id, at, ip)
	return err
}

func rowToSession(row *sessionRow) *domain.Session {
	s := &domain.Session{
		ID:            row.ID,
		AccountID:     row.AccountID,
		RootTokenID:   row.RootTokenID,
		Active:        row.Active,
		UserAgent:     row.UserAgent,
		DeviceName:    row.DeviceName,
		IPAddress:     row.IPAddress,
		LastIPAddress: row.LastIPAddress,
		CreatedAt:     row.CreatedAt,
	}
	if row.TerminationReason.Valid {
		s.TerminationReason = domain.TerminationReason(row.TerminationReason.String)
	}
	s.TerminatedAt = nullToTime(row.TerminatedAt)
	s.LastAccessedAt = nullToTime(row.LastAccessedAt)
	return s
}

func reasonToNull(r domain.TerminationReason) sql.NullString {
	return sql.NullString{String: string(r), Valid: r != ""}
}

func timeToNull(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullToTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
