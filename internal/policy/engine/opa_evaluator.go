package engine

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const policyQuery = "data.accounts.login"

// Default Rego login policy: allow unless the account already holds the
// configured number of active sessions.
const defaultRegoPolicy = `package accounts.login

default allow = true
default deny_reason = ""

session_limited if {
	input.policy.max_active_sessions > 0
	input.sessions.active_count >= input.policy.max_active_sessions
}

allow = false if {
	session_limited
}

deny_reason = "session_limit" if {
	session_limited
}
`

// OPAEvaluator evaluates login policies using OPA Rego.
type OPAEvaluator struct {
	module string
}

// NewOPAEvaluator returns an OPA-based login policy evaluator. module
// overrides the built-in policy when non-empty: inline Rego source (starting
// with its package clause) or a path to a .rego file. The module must define
// accounts.login.allow and accounts.login.deny_reason.
func NewOPAEvaluator(module string) (*OPAEvaluator, error) {
	src, err := loadPolicyModule(module)
	if err != nil {
		return nil, err
	}
	return &OPAEvaluator{module: src}, nil
}

func loadPolicyModule(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultRegoPolicy, nil
	}
	if strings.HasPrefix(s, "package ") {
		return s, nil
	}
	b, err := os.ReadFile(s)
	if err != nil {
		return "", fmt.Errorf("load login policy: %w", err)
	}
	return string(b), nil
}

// HealthCheck verifies that the in-process OPA Rego engine can compile and
// evaluate the configured policy. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.eval(ctx, LoginInput{MaxActiveSessions: 1})
	return err
}

// EvaluateLogin evaluates the login policy for the given input.
func (e *OPAEvaluator) EvaluateLogin(ctx context.Context, in LoginInput) (LoginDecision, error) {
	return e.eval(ctx, in)
}

func (e *OPAEvaluator) eval(ctx context.Context, in LoginInput) (LoginDecision, error) {
	modules := map[string]string{"login_policy.rego": e.module}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return LoginDecision{}, fmt.Errorf("compile login policy: %w", err)
	}

	roles := make([]interface{}, len(in.Roles))
	for i, r := range in.Roles {
		roles[i] = r
	}
	input := map[string]interface{}{
		"account": map[string]interface{}{
			"id":             in.AccountID,
			"roles":          roles,
			"email_verified": in.EmailVerified,
		},
		"sessions": map[string]interface{}{
			"active_count": in.ActiveSessions,
		},
		"policy": map[string]interface{}{
			"max_active_sessions": in.MaxActiveSessions,
		},
		"client": map[string]interface{}{
			"ip":         in.ClientIP,
			"user_agent": in.UserAgent,
		},
	}

	q := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return LoginDecision{}, fmt.Errorf("eval login policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return LoginDecision{}, fmt.Errorf("login policy query returned no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return LoginDecision{}, fmt.Errorf("login policy returned unexpected document")
	}

	decision := LoginDecision{Allow: true}
	if v, ok := doc["allow"].(bool); ok {
		decision.Allow = v
	}
	if v, ok := doc["deny_reason"].(string); ok {
		decision.Reason = v
	}
	return decision, nil
}
