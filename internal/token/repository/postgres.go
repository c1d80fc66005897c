package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"account-platform/backend/internal/token/domain"
)

// uniqParentConstraint is the partial unique index on tokens.parent_token_id.
// A violation means the parent was already rotated by a concurrent caller.
const uniqParentConstraint = "uniq_tokens_parent"

// pgUniqueViolation is the Postgres error code for unique_violation.
const pgUniqueViolation = "23505"

// PostgresRepository persists tokens with hand-written SQL over sqlx.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a token repository that uses the given db for persistence.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type tokenRow struct {
	ID            string         `db:"id"`
	ValueHash     string         `db:"value_hash"`
	Kind          string         `db:"kind"`
	AccountID     string         `db:"account_id"`
	SessionID     sql.NullString `db:"session_id"`
	IssuedAt      time.Time      `db:"issued_at"`
	ExpiresAt     time.Time      `db:"expires_at"`
	Revoked       bool           `db:"revoked"`
	RevokedAt     sql.NullTime   `db:"revoked_at"`
	Reused        bool           `db:"reused"`
	RootTokenID   string         `db:"root_token_id"`
	ParentTokenID sql.NullString `db:"parent_token_id"`
}

const tokenColumns = `id, value_hash, kind, account_id, session_id, issued_at, expires_at,
	revoked, revoked_at, reused, root_token_id, parent_token_id`

// GetByID returns the token for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Token, error) {
	var row tokenRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+tokenColumns+` FROM tokens WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rowToToken(&row), nil
}

// GetByValueHash returns the token whose stored value hash equals valueHash, or nil if not found.
func (r *PostgresRepository) GetByValueHash(ctx context.Context, valueHash string) (*domain.Token, error) {
	var row tokenRow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+tokenColumns+` FROM tokens WHERE value_hash = $1`, valueHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rowToToken(&row), nil
}

// Create inserts the token. A non-root insert racing another child of the
// same parent loses on the uniq_tokens_parent index and gets ErrParentSuperseded.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.Token) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tokens (`+tokenColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.ValueHash, string(t.Kind), t.AccountID,
		stringToNull(t.SessionID), t.IssuedAt, t.ExpiresAt,
		t.Revoked, timeToNull(t.RevokedAt), t.Reused,
		t.RootTokenID, ptrToNull(t.ParentTokenID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == uniqParentConstraint {
			return ErrParentSuperseded
		}
		return err
	}
	return nil
}

// HasChild reports whether any token references id as its parent.
func (r *PostgresRepository) HasChild(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM tokens WHERE parent_token_id = $1)`, id)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// MarkReused sets the monotonic reused flag on the token.
func (r *PostgresRepository) MarkReused(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tokens SET reused = TRUE, revoked = TRUE,
			revoked_at = COALESCE(revoked_at, $2)
		 WHERE id = $1`, id, at)
	return err
}

// RevokeLineage revokes every token sharing the given root id. Already
// revoked tokens keep their original revoked_at.
func (r *PostgresRepository) RevokeLineage(ctx context.Context, rootTokenID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tokens SET revoked = TRUE, revoked_at = COALESCE(revoked_at, $2)
		 WHERE root_token_id = $1 AND NOT revoked`, rootTokenID, at)
	return err
}

// RevokeAllForAccount revokes every token owned by the account, across all lineages and kinds.
func (r *PostgresRepository) RevokeAllForAccount(ctx context.Context, accountID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tokens SET revoked = TRUE, revoked_at = COALESCE(revoked_at, $2)
		 WHERE account_id = $1 AND NOT revoked`, accountID, at)
	return err
}

// DeleteExpiredRevoked removes lineages whose every token is revoked or
// expired and whose latest expiry is older than cutoff. Lineages are removed
// whole so the self-referential parent FK stays satisfied.
func (r *PostgresRepository) DeleteExpiredRevoked(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE root_token_id IN (
			SELECT root_token_id FROM tokens
			GROUP BY root_token_id
			HAVING bool_and(revoked OR expires_at <= $1) AND max(expires_at) <= $1
		 )`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func rowToToken(row *tokenRow) *domain.Token {
	t := &domain.Token{
		ID:          row.ID,
		ValueHash:   row.ValueHash,
		Kind:        domain.Kind(row.Kind),
		AccountID:   row.AccountID,
		IssuedAt:    row.IssuedAt,
		ExpiresAt:   row.ExpiresAt,
		Revoked:     row.Revoked,
		Reused:      row.Reused,
		RootTokenID: row.RootTokenID,
	}
	if row.SessionID.Valid {
		t.SessionID = row.SessionID.String
	}
	t.RevokedAt = nullToTime(row.RevokedAt)
	if row.ParentTokenID.Valid {
		v := row.ParentTokenID.String
		t.ParentTokenID = &v
	}
	return t
}

func stringToNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func ptrToNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
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
