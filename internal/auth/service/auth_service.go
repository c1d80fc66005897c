// Package service orchestrates the credential and session lifecycle: it owns
// the login, refresh, and logout protocols and composes the account store,
// lockout state machine, token engine, session registry, signer, and login
// policy into them.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	accountdomain "account-platform/backend/internal/account/domain"
	accountservice "account-platform/backend/internal/account/service"
	"account-platform/backend/internal/audit"
	"account-platform/backend/internal/events"
	policyengine "account-platform/backend/internal/policy/engine"
	"account-platform/backend/internal/security"
	sessiondomain "account-platform/backend/internal/session/domain"
	sessionservice "account-platform/backend/internal/session/service"
	tokendomain "account-platform/backend/internal/token/domain"
	tokenservice "account-platform/backend/internal/token/service"

	"account-platform/backend/internal/platform/rbac"
)

// AccountRepo is the minimal account repository needed by the auth service.
// The lockout state machine carries its own store for counter updates.
type AccountRepo interface {
	GetByID(ctx context.Context, id string) (*accountdomain.Account, error)
	GetByIdentifier(ctx context.Context, identifier string) (*accountdomain.Account, error)
	GetByEmail(ctx context.Context, email string) (*accountdomain.Account, error)
	Create(ctx context.Context, a *accountdomain.Account) error
	RecordLogout(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error
	SetEmailVerified(ctx context.Context, id string, at time.Time) error
	SetEnabled(ctx context.Context, id string, enabled bool, at time.Time) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// LoginResult holds the credential pair returned by Login and Refresh.
type LoginResult struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
	AccountID       string
	SessionID       string
}

// AuthService implements register, login, refresh, logout, session management,
// and the password and email verification flows.
type AuthService struct {
	accounts  AccountRepo
	lockout   *accountservice.Lockout
	engine    *tokenservice.Engine
	sessions  *sessionservice.Registry
	hasher    *security.Hasher
	signer    *security.TokenProvider
	policy    policyengine.Evaluator
	publisher events.Publisher
	auditor   audit.AuditLogger

	refreshTTL        time.Duration
	verificationTTL   time.Duration
	maxActiveSessions int
}

// NewAuthService returns an AuthService with the given dependencies.
// policy, publisher, and auditor may be nil; the corresponding step is skipped.
func NewAuthService(
	accounts AccountRepo,
	lockout *accountservice.Lockout,
	engine *tokenservice.Engine,
	sessions *sessionservice.Registry,
	hasher *security.Hasher,
	signer *security.TokenProvider,
	policy policyengine.Evaluator,
	publisher events.Publisher,
	auditor audit.AuditLogger,
	refreshTTL, verificationTTL time.Duration,
	maxActiveSessions int,
) *AuthService {
	return &AuthService{
		accounts:          accounts,
		lockout:           lockout,
		engine:            engine,
		sessions:          sessions,
		hasher:            hasher,
		signer:            signer,
		policy:            policy,
		publisher:         publisher,
		auditor:           auditor,
		refreshTTL:        refreshTTL,
		verificationTTL:   verificationTTL,
		maxActiveSessions: maxActiveSessions,
	}
}

// Register creates an account with the given username, email, and password.
// The account starts enabled, unverified, with the "user" role and no sessions.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*accountdomain.Account, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := s.accounts.GetByIdentifier(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}
	existing, err = s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hashed, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	a := &accountdomain.Account{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hashed,
		Roles:        []string{"user"},
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		return nil, err
	}
	s.publishAsync(&events.Event{
		AccountID: a.ID,
		EventType: events.TypeAccountRegistered,
		Source:    "auth_service",
		CreatedAt: now,
	})
	return a, nil
}

// Login runs the login protocol: resolve the account, gate on lockout and
// enabled state, verify the password, consult the login policy, then open a
// session with a fresh token lineage and a signed access token.
//
// A failed password attempt increments the lockout counter even when the
// surrounding call fails afterward. Lock state is checked before the password
// so attempts against a locked account are rejected without counting.
func (s *AuthService) Login(ctx context.Context, identifier, password string, meta sessiondomain.ClientMetadata) (*LoginResult, error) {
	identifier = strings.TrimSpace(strings.ToLower(identifier))
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	a, err := s.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if a == nil {
		// An unknown account is indistinguishable from a bad password.
		s.auditEvent(ctx, "", audit.ActionLoginFailure, "account", fmt.Sprintf(`{"identifier":%q,"reason":"unknown_account"}`, identifier))
		return nil, ErrInvalidCredentials
	}
	if s.lockout.IsLocked(a) {
		s.auditEvent(ctx, a.ID, audit.ActionLoginFailure, "account", `{"reason":"locked"}`)
		return nil, &AccountLockedError{Until: *a.LockedUntil, RetryAfter: s.lockout.LockRemaining(a)}
	}
	// Deleted and disabled accounts fail without touching the counter.
	if a.Deleted {
		s.auditEvent(ctx, a.ID, audit.ActionLoginFailure, "account", `{"reason":"deleted"}`)
		return nil, ErrAccountDeleted
	}
	if !a.Enabled {
		s.auditEvent(ctx, a.ID, audit.ActionLoginFailure, "account", `{"reason":"disabled"}`)
		return nil, ErrAccountDisabled
	}
	if err := s.hasher.Compare(a.PasswordHash, password); err != nil {
		locked, lerr := s.lockout.RecordFailure(ctx, a.ID)
		if lerr != nil {
			return nil, lerr
		}
		s.auditEvent(ctx, a.ID, audit.ActionLoginFailure, "account", `{"reason":"bad_password"}`)
		if locked {
			s.auditEvent(ctx, a.ID, audit.ActionAccountLocked, "account", "")
		}
		return nil, ErrInvalidCredentials
	}

	if s.policy != nil {
		active, err := s.sessions.FindActiveByAccount(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		decision, err := s.policy.EvaluateLogin(ctx, policyengine.LoginInput{
			AccountID:         a.ID,
			Roles:             a.Roles,
			EmailVerified:     a.EmailVerified,
			ActiveSessions:    len(active),
			MaxActiveSessions: s.maxActiveSessions,
			ClientIP:          meta.IPAddress,
			UserAgent:         meta.UserAgent,
		})
		if err != nil {
			return nil, err
		}
		if !decision.Allow {
			s.auditEvent(ctx, a.ID, audit.ActionLoginFailure, "account", fmt.Sprintf(`{"reason":"policy","policy_reason":%q}`, decision.Reason))
			return nil, ErrLoginDenied
		}
	}

	if err := s.lockout.RecordSuccess(ctx, a.ID); err != nil {
		return nil, err
	}

	sessionID := uuid.New().String()
	issued, err := s.engine.IssueRoot(ctx, a.ID, sessionID, tokendomain.KindRefresh, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.Create(ctx, sessionID, a.ID, issued.Token.RootTokenID, meta); err != nil {
		return nil, err
	}
	access, accessExp, err := s.signer.IssueAccess(a.ID, a.Username, a.Email, a.Roles, sessionID)
	if err != nil {
		return nil, err
	}

	s.auditEvent(ctx, a.ID, audit.ActionLoginSuccess, "session", fmt.Sprintf(`{"session_id":%q}`, sessionID))
	s.publishAsync(&events.Event{
		AccountID: a.ID,
		SessionID: sessionID,
		EventType: events.TypeAccountLoggedIn,
		Source:    "auth_service",
		CreatedAt: time.Now().UTC(),
	})
	return &LoginResult{
		AccessToken:     access,
		RefreshToken:    issued.Value,
		AccessExpiresAt: accessExp,
		AccountID:       a.ID,
		SessionID:       sessionID,
	}, nil
}

// Refresh runs the refresh protocol: rotate the presented refresh token,
// re-check the account, touch the session, and mint a new access token.
//
// Error mapping follows the engine: tokenservice.ErrTokenReused means the
// lineage has already been revoked and the session terminated by the time
// this returns. An account that was disabled or deleted since login kills
// the session on the spot.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, ip string) (*LoginResult, error) {
	issued, presented, err := s.engine.Rotate(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, tokenservice.ErrTokenReused):
			// The engine already revoked the lineage and killed the session.
			if presented != nil {
				s.auditEvent(ctx, presented.AccountID, audit.ActionTokenReuse, "token", fmt.Sprintf(`{"session_id":%q,"token_id":%q}`, presented.SessionID, presented.ID))
			}
		case errors.Is(err, tokenservice.ErrTokenExpired):
			// Plain expiry leaves the session alone; the client can log in again.
		default:
			// The 1:1 lineage link resolves the session even when the token
			// row carries no session id.
			if presented != nil {
				sess, serr := s.sessions.FindByRootToken(ctx, presented.RootTokenID)
				if serr != nil {
					return nil, serr
				}
				if sess != nil && sess.Active {
					if terr := s.sessions.Terminate(ctx, sess.ID, sessiondomain.ReasonRevoked); terr != nil && !errors.Is(terr, sessionservice.ErrSessionNotFound) {
						return nil, terr
					}
				}
			}
		}
		return nil, err
	}
	t := issued.Token
	a, err := s.accounts.GetByID(ctx, t.AccountID)
	if err != nil {
		return nil, err
	}
	if a == nil || a.Deleted || !a.Enabled {
		if terr := s.sessions.Terminate(ctx, t.SessionID, sessiondomain.ReasonRevoked); terr != nil && !errors.Is(terr, sessionservice.ErrSessionNotFound) {
			return nil, terr
		}
		if a != nil && a.Deleted {
			return nil, ErrAccountDeleted
		}
		return nil, ErrAccountDisabled
	}
	if err := s.sessions.Touch(ctx, t.SessionID, ip); err != nil {
		return nil, err
	}
	access, accessExp, err := s.signer.IssueAccess(a.ID, a.Username, a.Email, a.Roles, t.SessionID)
	if err != nil {
		return nil, err
	}
	s.auditEvent(ctx, a.ID, audit.ActionTokenRefresh, "token", fmt.Sprintf(`{"session_id":%q}`, t.SessionID))
	return &LoginResult{
		AccessToken:     access,
		RefreshToken:    issued.Value,
		AccessExpiresAt: accessExp,
		AccountID:       a.ID,
		SessionID:       t.SessionID,
	}, nil
}

// Logout terminates the session behind the presented refresh token. With
// global set, every session and lineage of the account goes down instead.
// The presented token itself need not be live; a revoked leaf can still name
// its session for termination.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, global bool) error {
	t, err := s.engine.Lookup(ctx, refreshToken)
	if err != nil {
		return err
	}
	// Verification and reset tokens cannot drive the logout protocol.
	if t.Kind != tokendomain.KindRefresh {
		return tokenservice.ErrTokenNotFound
	}
	now := time.Now().UTC()
	if global {
		if err := s.sessions.TerminateAllForAccount(ctx, t.AccountID, sessiondomain.ReasonGlobalLogout); err != nil {
			return err
		}
		if err := s.accounts.RecordLogout(ctx, t.AccountID, now); err != nil {
			return err
		}
		s.auditEvent(ctx, t.AccountID, audit.ActionGlobalLogout, "account", "")
		s.publishAsync(&events.Event{
			AccountID: t.AccountID,
			EventType: events.TypeAccountLoggedOut,
			Source:    "auth_service",
			CreatedAt: now,
		})
		return nil
	}
	if err := s.sessions.Terminate(ctx, t.SessionID, sessiondomain.ReasonSingleLogout); err != nil {
		if errors.Is(err, sessionservice.ErrSessionNotFound) {
			return tokenservice.ErrTokenNotFound
		}
		return err
	}
	if err := s.accounts.RecordLogout(ctx, t.AccountID, now); err != nil {
		return err
	}
	s.auditEvent(ctx, t.AccountID, audit.ActionLogout, "session", fmt.Sprintf(`{"session_id":%q}`, t.SessionID))
	s.publishAsync(&events.Event{
		AccountID: t.AccountID,
		SessionID: t.SessionID,
		EventType: events.TypeAccountLoggedOut,
		Source:    "auth_service",
		CreatedAt: now,
	})
	return nil
}

// VerifyAccessToken verifies a bearer access token and returns its claims.
// Stateless: no store lookup, signature and registered claims only.
func (s *AuthService) VerifyAccessToken(tokenString string) (*security.AccessClaims, error) {
	return s.signer.VerifyAccess(tokenString)
}

// ListSessions returns the caller's active sessions.
func (s *AuthService) ListSessions(ctx context.Context) ([]*sessiondomain.Session, error) {
	accountID, err := rbac.RequireAccount(ctx)
	if err != nil {
		return nil, err
	}
	return s.sessions.FindActiveByAccount(ctx, accountID)
}

// TerminateSession terminates one session by id. Owners may terminate their
// own sessions; any other session requires the admin role.
func (s *AuthService) TerminateSession(ctx context.Context, sessionID string) error {
	callerID, err := rbac.RequireAccount(ctx)
	if err != nil {
		return err
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	reason := sessiondomain.ReasonSingleLogout
	if sess.AccountID != callerID {
		if _, err := rbac.RequireAdmin(ctx); err != nil {
			return err
		}
		if err := s.requireStoredAdmin(ctx, callerID); err != nil {
			return err
		}
		reason = sessiondomain.ReasonAdminTerminated
	}
	if err := s.sessions.Terminate(ctx, sessionID, reason); err != nil {
		return err
	}
	s.auditEvent(ctx, callerID, audit.ActionSessionTerminated, "session", fmt.Sprintf(`{"session_id":%q,"owner":%q}`, sessionID, sess.AccountID))
	return nil
}

// ChangePassword verifies the current password, stores the new hash, and
// terminates every session of the account. The caller must log in again.
func (s *AuthService) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if a == nil || a.Deleted {
		return ErrAccountNotFound
	}
	if err := s.hasher.Compare(a.PasswordHash, currentPassword); err != nil {
		return ErrInvalidCredentials
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.accounts.UpdatePassword(ctx, a.ID, hashed, now); err != nil {
		return err
	}
	if err := s.sessions.TerminateAllForAccount(ctx, a.ID, sessiondomain.ReasonPasswordChanged); err != nil {
		return err
	}
	s.auditEvent(ctx, a.ID, audit.ActionPasswordChanged, "account", "")
	s.publishAsync(&events.Event{
		AccountID: a.ID,
		EventType: events.TypePasswordChanged,
		Source:    "auth_service",
		CreatedAt: now,
	})
	return nil
}

// RequestPasswordReset issues a one-shot reset token for the account behind
// the email. Returns the opaque value for out-of-band delivery; an unknown or
// deleted email returns empty without error, so callers cannot probe for
// registered addresses.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if a == nil || a.Deleted {
		return "", nil
	}
	issued, err := s.engine.IssueRoot(ctx, a.ID, "", tokendomain.KindPasswordReset, s.verificationTTL)
	if err != nil {
		return "", err
	}
	s.publishAsync(&events.Event{
		AccountID: a.ID,
		EventType: events.TypePasswordResetSent,
		Source:    "auth_service",
		CreatedAt: time.Now().UTC(),
	})
	return issued.Value, nil
}

// CompletePasswordReset spends a reset token, stores the new hash, and
// terminates every session of the account.
func (s *AuthService) CompletePasswordReset(ctx context.Context, resetToken, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	t, err := s.engine.Consume(ctx, resetToken, tokendomain.KindPasswordReset)
	if err != nil {
		return err
	}
	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.accounts.UpdatePassword(ctx, t.AccountID, hashed, now); err != nil {
		return err
	}
	if err := s.sessions.TerminateAllForAccount(ctx, t.AccountID, sessiondomain.ReasonPasswordChanged); err != nil {
		return err
	}
	s.auditEvent(ctx, t.AccountID, audit.ActionPasswordChanged, "account", `{"via":"reset"}`)
	s.publishAsync(&events.Event{
		AccountID: t.AccountID,
		EventType: events.TypePasswordChanged,
		Source:    "auth_service",
		CreatedAt: now,
	})
	return nil
}

// RequestEmailVerification issues a one-shot verification token for the
// account. Already-verified accounts get empty without error.
func (s *AuthService) RequestEmailVerification(ctx context.Context, accountID string) (string, error) {
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	if a == nil || a.Deleted {
		return "", ErrAccountNotFound
	}
	if a.EmailVerified {
		return "", nil
	}
	issued, err := s.engine.IssueRoot(ctx, a.ID, "", tokendomain.KindEmailVerification, s.verificationTTL)
	if err != nil {
		return "", err
	}
	return issued.Value, nil
}

// VerifyEmail spends a verification token and marks the account verified.
func (s *AuthService) VerifyEmail(ctx context.Context, verificationToken string) error {
	t, err := s.engine.Consume(ctx, verificationToken, tokendomain.KindEmailVerification)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.accounts.SetEmailVerified(ctx, t.AccountID, now); err != nil {
		return err
	}
	s.publishAsync(&events.Event{
		AccountID: t.AccountID,
		EventType: events.TypeEmailVerified,
		Source:    "auth_service",
		CreatedAt: now,
	})
	return nil
}

// SetAccountEnabled enables or disables an account. Admin only. Disabling
// terminates every session of the account.
func (s *AuthService) SetAccountEnabled(ctx context.Context, accountID string, enabled bool) error {
	callerID, err := rbac.RequireAdmin(ctx)
	if err != nil {
		return err
	}
	if err := s.requireStoredAdmin(ctx, callerID); err != nil {
		return err
	}
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if a == nil || a.Deleted {
		return ErrAccountNotFound
	}
	now := time.Now().UTC()
	if err := s.accounts.SetEnabled(ctx, accountID, enabled, now); err != nil {
		return err
	}
	if !enabled {
		if err := s.sessions.TerminateAllForAccount(ctx, accountID, sessiondomain.ReasonAdminTerminated); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAccount verifies the password, terminates every session, then soft
// deletes the account. The row stays; logins against it read as invalid
// credentials from then on.
func (s *AuthService) DeleteAccount(ctx context.Context, accountID, password string) error {
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if a == nil || a.Deleted {
		return ErrAccountNotFound
	}
	if err := s.hasher.Compare(a.PasswordHash, password); err != nil {
		return ErrInvalidCredentials
	}
	if err := s.sessions.TerminateAllForAccount(ctx, a.ID, sessiondomain.ReasonAccountDeleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.accounts.SoftDelete(ctx, a.ID, now); err != nil {
		return err
	}
	s.auditEvent(ctx, a.ID, audit.ActionAccountDeleted, "account", "")
	s.publishAsync(&events.Event{
		AccountID: a.ID,
		EventType: events.TypeAccountDeleted,
		Source:    "auth_service",
		CreatedAt: now,
	})
	return nil
}

// requireStoredAdmin confirms the caller still carries the admin role in the
// account store. Access token claims can outlive a role revocation; admin
// operations check the stored roles, not just the token.
func (s *AuthService) requireStoredAdmin(ctx context.Context, callerID string) error {
	caller, err := s.accounts.GetByID(ctx, callerID)
	if err != nil {
		return err
	}
	if caller == nil || caller.Deleted || !caller.HasRole(rbac.RoleAdmin) {
		return status.Error(codes.PermissionDenied, "admin role required")
	}
	return nil
}

func (s *AuthService) auditEvent(ctx context.Context, accountID, action, resource, metadata string) {
	if s.auditor == nil {
		return
	}
	s.auditor.LogEvent(ctx, accountID, action, resource, metadata)
}

func (s *AuthService) publishAsync(e *events.Event) {
	events.PublishAsync(s.publisher, e)
}

func validateUsername(username string) error {
	if username == "" {
		return errors.New("username is required")
	}
	if len(username) < 3 || len(username) > 64 {
		return errors.New("username must be 3-64 characters")
	}
	const usernamePattern = `^[a-z0-9][a-z0-9._-]*$`
	ok, _ := regexp.MatchString(usernamePattern, username)
	if !ok {
		return errors.New("username may contain lowercase letters, digits, '.', '_', '-'")
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	const simpleEmail = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	ok, _ := regexp.MatchString(simpleEmail, email)
	if !ok {
		return errors.New("invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return errors.New("password must be at least 12 characters")
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		case r < '0' || (r > '9' && r < 'A') || (r > 'Z' && r < 'a') || r > 'z':
			hasSymbol = true
		}
	}
	if !hasUpper {
		return errors.New("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return errors.New("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return errors.New("password must contain at least one number")
	}
	if !hasSymbol {
		return errors.New("password must contain at least one symbol")
	}
	return nil
}
