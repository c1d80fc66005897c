package domain

import "time"

// Kind discriminates what an issued token is good for.
type Kind string

const (
	KindRefresh           Kind = "refresh"
	KindEmailVerification Kind = "email_verification"
	KindPasswordReset     Kind = "password_reset"
	KindMFAVerification   Kind = "mfa_verification"
)

// Token is a single issued credential. Tokens form rotation lineages: the
// root points at itself via RootTokenID, every successor points at its
// predecessor via ParentTokenID and shares the root id. The opaque value is
// handed out once at issuance; only its SHA-256 hash is stored.
type Token struct {
	ID        string
	ValueHash string
	Kind      Kind
	AccountID string
	SessionID string // empty for tokens not bound to a session (verification, reset)
	IssuedAt  time.Time
	ExpiresAt time.Time

	// Revoked and Reused are monotonic: once set they are never cleared.
	Revoked   bool
	RevokedAt *time.Time
	Reused    bool

	RootTokenID   string
	ParentTokenID *string // nil for the lineage root
}

// IsRoot reports whether the token is the first of its lineage.
func (t *Token) IsRoot() bool { return t.ParentTokenID == nil }
