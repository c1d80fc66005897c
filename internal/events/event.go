// Package events publishes account lifecycle events for downstream profile
// synchronization. Delivery is fire-and-forget: this core never awaits it and
// a publish failure must not roll back token or session state.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Event types published by the auth code paths.
const (
	TypeAccountRegistered = "account_registered"
	TypeAccountLoggedIn   = "account_logged_in"
	TypeAccountLoggedOut  = "account_logged_out"
	TypePasswordChanged   = "password_changed"
	TypePasswordResetSent = "password_reset_requested"
	TypeEmailVerified     = "email_verified"
	TypeAccountDeleted    = "account_deleted"
	TypeGRPCRequest       = "grpc_request"
)

// Event is one account lifecycle or telemetry event, serialized as JSON on the wire.
type Event struct {
	AccountID string          `json:"account_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	EventType string          `json:"event_type"`
	Source    string          `json:"source"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Publisher emits events. Callers use it best-effort: log and ignore errors.
type Publisher interface {
	// Publish sends a single event. Implementations may block briefly; call
	// from a goroutine if needed. Returns an error only on write failure.
	Publish(ctx context.Context, event *Event) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
