package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"account-platform/backend/internal/audit/domain"
)

// PostgresRepository persists audit logs with hand-written SQL over sqlx.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type auditLogRow struct {
	ID        string    `db:"id"`
	AccountID string    `db:"account_id"`
	Action    string    `db:"action"`
	Resource  string    `db:"resource"`
	IP        string    `db:"ip"`
	Metadata  string    `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}

const auditLogColumns = `id, account_id, action, resource, ip, metadata, created_at`

// GetByID returns the audit log for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	var row auditLogRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+auditLogColumns+` FROM audit_logs WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rowToAuditLog(&row), nil
}

// ListByAccount returns audit logs for the given account, newest first,
// paginated by limit and offset. Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int32) ([]*domain.AuditLog, error) {
	var rows []auditLogRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+auditLogColumns+` FROM audit_logs
		 WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.AuditLog, len(rows))
	for i := range rows {
		out[i] = rowToAuditLog(&rows[i])
	}
	return out, nil
}

// Create persists the audit log to the database. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (`+auditLogColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.AccountID, a.Action, a.Resource, a.IP, a.Metadata, a.CreatedAt)
	return err
}

func rowToAuditLog(row *auditLogRow) *domain.AuditLog {
	return &domain.AuditLog{
		ID:        row.ID,
		AccountID: row.AccountID,
		Action:    row.Action,
		Resource:  row.Resource,
		IP:        row.IP,
		Metadata:  row.Metadata,
		CreatedAt: row.CreatedAt,
	}
}
