package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"account-platform/backend/internal/account/domain"
)

// PostgresRepository persists accounts with hand-written SQL over sqlx.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns an account repository that uses the given db for persistence.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// accountRow mirrors the accounts table; roles are stored comma-joined.
type accountRow struct {
	ID                  string       `db:"id"`
	Username            string       `db:"username"`
	Email               string       `db:"email"`
	PasswordHash        string       `db:"password_hash"`
	Roles               string       `db:"roles"`
	Enabled             bool         `db:"enabled"`
	Deleted             bool         `db:"deleted"`
	EmailVerified       bool         `db:"email_verified"`
	Locked              bool         `db:"locked"`
	LockedUntil         sql.NullTime `db:"locked_until"`
	FailedLoginAttempts int          `db:"failed_login_attempts"`
	LastLoginAt         sql.NullTime `db:"last_login_at"`
	LastLogoutAt        sql.NullTime `db:"last_logout_at"`
	CreatedAt           time.Time    `db:"created_at"`
	UpdatedAt           time.Time    `db:"updated_at"`
}

const accountColumns = `id, username, email, password_hash, roles, enabled, deleted, email_verified,
	locked, locked_until, failed_login_attempts, last_login_at, last_logout_at, created_at, updated_at`

// GetByID returns the account for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	var row accountRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rowToAccount(&row), nil
}

// GetByIdentifier returns the account whose username or email equals identifier, or nil if not found.
func (r *PostgresRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.Account, error) {
	var row accountRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+accountColumns+` FROM accounts WHERE username = $1 OR email = $1`, identifier)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rowToAccount(&row), nil
}

// GetByEmail returns the account for email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	var row accountRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rowToAccount(&row), nil
}

// Create persists the account to the database. The account must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		a.ID, a.Username, a.Email, a.PasswordHash, strings.Join(a.Roles, ","),
		a.Enabled, a.Deleted, a.EmailVerified,
		a.Locked, timeToNull(a.LockedUntil), a.FailedLoginAttempts,
		timeToNull(a.LastLoginAt), timeToNull(a.LastLogoutAt), a.CreatedAt, a.UpdatedAt)
	return err
}

// RecordFailedAttempt increments the failed-login counter and locks the
// account when the counter reaches threshold, in a single atomic statement.
// The write commits on its own so a brute-force attempt is counted even when
// the surrounding login attempt fails afterwards.
func (r *PostgresRepository) RecordFailedAttempt(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, bool, error) {
	var (
		attempts int
		locked   bool
	)
	err := r.db.QueryRowxContext(ctx,
		`UPDATE accounts SET
			failed_login_attempts = failed_login_attempts + 1,
			locked = (failed_login_attempts + 1 >= $2),
			locked_until = CASE WHEN failed_login_attempts + 1 >= $2 THEN $3 ELSE locked_until END,
			updated_at = $4
		 WHERE id = $1
		 RETURNING failed_login_attempts, locked`,
		id, threshold, lockUntil, time.Now().UTC()).Scan(&attempts, &locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return attempts, locked, nil
}

// RecordLoginSuccess resets the counter, clears the lock, and stamps last_login_at.
func (r *PostgresRepository) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET
			failed_login_attempts = 0, locked = FALSE, locked_until = NULL,
			last_login_at = $2, updated_at = $2
		 WHERE id = $1`, id, at)
	return err
}

// RecordLogout stamps last_logout_at.
func (r *PostgresRepository) RecordLogout(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET last_logout_at = $2, updated_at = $2 WHERE id = $1`, id, at)
	return err
}

// UpdatePassword stores a new password hash.
func (r *PostgresRepository) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, passwordHash, at)
	return err
}

// SetEmailVerified marks the account's email as verified.
func (r *PostgresRepository) SetEmailVerified(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET email_verified = TRUE, updated_at = $2 WHERE id = $1`, id, at)
	return err
}

// SetEnabled enables or disables the account.
func (r *PostgresRepository) SetEnabled(ctx context.Context, id string, enabled bool, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET enabled = $2, updated_at = $3 WHERE id = $1`, id, enabled, at)
	return err
}

// SoftDelete marks the account deleted; the row is kept.
func (r *PostgresRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET deleted = TRUE, enabled = FALSE, updated_at = $2 WHERE id = $1`, id, at)
	return err
}

func rowToAccount(row *accountRow) *domain.Account {
	a := &domain.Account{
		ID:                  row.ID,
		Username:            row.Username,
		Email:               row.Email,
		PasswordHash:        row.PasswordHash,
		Enabled:             row.Enabled,
		Deleted:             row.Deleted,
		EmailVerified:       row.EmailVerified,
		Locked:              row.Locked,
		FailedLoginAttempts: row.FailedLoginAttempts,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
	if row.Roles != "" {
		a.Roles = strings.Split(row.Roles, ",")
	}
	a.LockedUntil = nullToTime(row.LockedUntil)
	a.LastLoginAt = nullToTime(row.LastLoginAt)
	a.LastLogoutAt = nullToTime(row.LastLogoutAt)
	return a
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
