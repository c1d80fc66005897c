package engine

import "context"

// LoginInput is the context a login policy decides over. Credential and
// lockout checks have already passed when the policy runs.
type LoginInput struct {
	AccountID         string
	Roles             []string
	EmailVerified     bool
	ActiveSessions    int
	MaxActiveSessions int // 0 disables the cap
	ClientIP          string
	UserAgent         string
}

// LoginDecision is the result of login policy evaluation.
type LoginDecision struct {
	Allow  bool
	Reason string // machine-readable deny reason, empty when allowed
}

// Evaluator evaluates login policies using OPA or other engines.
type Evaluator interface {
	// EvaluateLogin decides whether a credential-valid login attempt may
	// proceed to token issuance.
	EvaluateLogin(ctx context.Context, in LoginInput) (LoginDecision, error)
	// HealthCheck verifies the engine can compile and evaluate its policy.
	HealthCheck(ctx context.Context) error
}
