package domain

import "time"

// TerminationReason records why a session stopped being active.
type TerminationReason string

const (
	ReasonSingleLogout    TerminationReason = "single_logout"
	ReasonGlobalLogout    TerminationReason = "global_logout"
	ReasonExpired         TerminationReason = "expired"
	ReasonRevoked         TerminationReason = "revoked"
	ReasonPasswordChanged TerminationReason = "password_changed"
	ReasonAccountDeleted  TerminationReason = "account_deleted"
	ReasonAdminTerminated TerminationReason = "admin_terminated"
)

// ClientMetadata describes the client that opened a session.
type ClientMetadata struct {
	UserAgent  string
	DeviceName string
	IPAddress  string
}

// Session is one user-visible login instance, backed by exactly one token
// lineage via RootTokenID. A session is active iff its lineage has not been
// revoked; the two transition together.
type Session struct {
	ID                string
	AccountID         string
	RootTokenID       string
	Active            bool
	TerminationReason TerminationReason // empty while active
	TerminatedAt      *time.Time

	UserAgent     string
	DeviceName    string
	IPAddress     string
	LastIPAddress string

	CreatedAt      time.Time
	LastAccessedAt *time.Time
}
