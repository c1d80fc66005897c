package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	accountdomain "account-platform/backend/internal/account/domain"
	accountservice "account-platform/backend/internal/account/service"
	policyengine "account-platform/backend/internal/policy/engine"
	"account-platform/backend/internal/security"
	"account-platform/backend/internal/server/interceptors"
	sessiondomain "account-platform/backend/internal/session/domain"
	sessionservice "account-platform/backend/internal/session/service"
	tokendomain "account-platform/backend/internal/token/domain"
	tokenrepository "account-platform/backend/internal/token/repository"
	tokenservice "account-platform/backend/internal/token/service"
)

type memAccountRepo struct {
	mu sync.Mutex
	m  map[string]*accountdomain.Account
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{m: make(map[string]*accountdomain.Account)}
}

func (r *memAccountRepo) get(id string) *accountdomain.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.m[id]
	if !ok {
		return nil
	}
	a2 := *a
	return &a2
}

func (r *memAccountRepo) GetByID(ctx context.Context, id string) (*accountdomain.Account, error) {
	return r.get(id), nil
}

func (r *memAccountRepo) GetByIdentifier(ctx context.Context, identifier string) (*accountdomain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.m {
		if a.Username == identifier || a.Email == identifier {
			a2 := *a
			return &a2, nil
		}
	}
	return nil, nil
}

func (r *memAccountRepo) GetByEmail(ctx context.Context, email string) (*accountdomain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.m {
		if a.Email == email {
			a2 := *a
			return &a2, nil
		}
	}
	return nil, nil
}

func (r *memAccountRepo) Create(ctx context.Context, a *accountdomain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a2 := *a
	r.m[a.ID] = &a2
	return nil
}

func (r *memAccountRepo) RecordFailedAttempt(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.m[id]
	if !ok {
		return 0, false, nil
	}
	a.FailedLoginAttempts++
	if a.FailedLoginAttempts >= threshold {
		a.Locked = true
		until := lockUntil
		a.LockedUntil = &until
	}
	return a.FailedLoginAttempts, a.Locked, nil
}

func (r *memAccountRepo) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.m[id]; ok {
		a.FailedLoginAttempts = 0
		a.Locked = false
		a.LockedUntil = nil
		a.LastLoginAt = &at
	}
	return nil
}

func (r *memAccountRepo) RecordLogout(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.m[id]; ok {
		a.LastLogoutAt = &at
	}
	return nil
}

func (r *memAccountRepo) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.m[id]; ok {
		a.PasswordHash = passwordHash
		a.UpdatedAt = at
	}
	return nil
}

func (r *memAccountRepo) SetEmailVerified(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.m[id]; ok {
		a.EmailVerified = true
		a.UpdatedAt = at
	}
	return nil
}

func (r *memAccountRepo) SetEnabled(ctx context.Context, id string, enabled bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.m[id]; ok {
		a.Enabled = enabled
		a.UpdatedAt = at
	}
	return nil
}

func (r *memAccountRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.m[id]; ok {
		a.Deleted = true
		a.UpdatedAt = at
	}
	return nil
}

type memTokenRepo struct {
	mu     sync.Mutex
	byID   map[string]*tokendomain.Token
	byHash map[string]*tokendomain.Token
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{
		byID:   make(map[string]*tokendomain.Token),
		byHash: make(map[string]*tokendomain.Token),
	}
}

func (r *memTokenRepo) GetByValueHash(ctx context.Context, valueHash string) (*tokendomain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byHash[valueHash]
	if !ok {
		return nil, nil
	}
	t2 := *t
	return &t2, nil
}

func (r *memTokenRepo) Create(ctx context.Context, t *tokendomain.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ParentTokenID != nil {
		for _, existing := range r.byID {
			if existing.ParentTokenID != nil && *existing.ParentTokenID == *t.ParentTokenID {
				return tokenrepository.ErrParentSuperseded
			}
		}
	}
	t2 := *t
	r.byID[t.ID] = &t2
	r.byHash[t.ValueHash] = &t2
	return nil
}

func (r *memTokenRepo) HasChild(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byID {
		if t.ParentTokenID != nil && *t.ParentTokenID == id {
			return true, nil
		}
	}
	return false, nil
}

func (r *memTokenRepo) MarkReused(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byID[id]; ok {
		t.Reused = true
		t.Revoked = true
		if t.RevokedAt == nil {
			t.RevokedAt = &at
		}
	}
	return nil
}

func (r *memTokenRepo) RevokeLineage(ctx context.Context, rootTokenID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byID {
		if t.RootTokenID == rootTokenID && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &at
		}
	}
	return nil
}

func (r *memTokenRepo) RevokeAllForAccount(ctx context.Context, accountID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byID {
		if t.AccountID == accountID && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &at
		}
	}
	return nil
}

// memSessionRepo satisfies both the registry's SessionRepo and the token
// engine's SessionTerminator, like the Postgres repository does.
type memSessionRepo struct {
	mu sync.Mutex
	m  map[string]*sessiondomain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{m: make(map[string]*sessiondomain.Session)}
}

func (r *memSessionRepo) get(id string) *sessiondomain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok {
		return nil
	}
	s2 := *s
	return &s2
}

func (r *memSessionRepo) GetByID(ctx context.Context, id string) (*sessiondomain.Session, error) {
	return r.get(id), nil
}

func (r *memSessionRepo) GetByRootToken(ctx context.Context, rootTokenID string) (*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.m {
		if s.RootTokenID == rootTokenID {
			s2 := *s
			return &s2, nil
		}
	}
	return nil, nil
}

func (r *memSessionRepo) ListActiveByAccount(ctx context.Context, accountID string) ([]*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*sessiondomain.Session
	for _, s := range r.m {
		if s.AccountID == accountID && s.Active {
			s2 := *s
			out = append(out, &s2)
		}
	}
	return out, nil
}

func (r *memSessionRepo) Create(ctx context.Context, s *sessiondomain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s2 := *s
	r.m[s.ID] = &s2
	return nil
}

func (r *memSessionRepo) terminate(s *sessiondomain.Session, reason sessiondomain.TerminationReason, at time.Time) {
	if s.Active {
		s.Active = false
		s.TerminationReason = reason
		s.TerminatedAt = &at
	}
}

func (r *memSessionRepo) Terminate(ctx context.Context, id string, reason sessiondomain.TerminationReason, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		r.terminate(s, reason, at)
	}
	return nil
}

func (r *memSessionRepo) TerminateByRootToken(ctx context.Context, rootTokenID string, reason sessiondomain.TerminationReason, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.m {
		if s.RootTokenID == rootTokenID {
			r.terminate(s, reason, at)
		}
	}
	return nil
}

func (r *memSessionRepo) TerminateAllForAccount(ctx context.Context, accountID string, reason sessiondomain.TerminationReason, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.m {
		if s.AccountID == accountID {
			r.terminate(s, reason, at)
		}
	}
	return nil
}

func (r *memSessionRepo) Touch(ctx context.Context, id, ip string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		s.LastAccessedAt = &at
		if ip != "" {
			s.LastIPAddress = ip
		}
	}
	return nil
}

// capPolicy denies once the account has reached maxActiveSessions.
type capPolicy struct{}

func (capPolicy) EvaluateLogin(ctx context.Context, in policyengine.LoginInput) (policyengine.LoginDecision, error) {
	if in.MaxActiveSessions > 0 && in.ActiveSessions >= in.MaxActiveSessions {
		return policyengine.LoginDecision{Allow: false, Reason: "session_limit"}, nil
	}
	return policyengine.LoginDecision{Allow: true}, nil
}

func (capPolicy) HealthCheck(ctx context.Context) error { return nil }

// recordingAuditor captures audit actions for assertions.
type recordingAuditor struct {
	mu      sync.Mutex
	entries []struct{ AccountID, Action string }
}

func (a *recordingAuditor) LogEvent(ctx context.Context, accountID, action, resource, metadata string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, struct{ AccountID, Action string }{accountID, action})
}

func (a *recordingAuditor) has(action string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.entries {
		if e.Action == action {
			return true
		}
	}
	return false
}

type fixtures struct {
	accounts *memAccountRepo
	tokens   *memTokenRepo
	sessions *memSessionRepo
	auditor  *recordingAuditor
	signer   *security.TokenProvider
}

func newTestAuthService(t *testing.T, maxSessions int) (*AuthService, *fixtures) {
	t.Helper()
	accounts := newMemAccountRepo()
	tokens := newMemTokenRepo()
	sessions := newMemSessionRepo()
	auditor := &recordingAuditor{}
	hasher := security.NewHasher(4)
	signer, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	lockout := accountservice.NewLockout(accounts, 5, 2*time.Hour)
	engine := tokenservice.NewEngine(tokens, sessions, time.Hour)
	registry := sessionservice.NewRegistry(sessions, engine)
	svc := NewAuthService(
		accounts, lockout, engine, registry,
		hasher, signer, capPolicy{}, nil, auditor,
		time.Hour, 24*time.Hour, maxSessions,
	)
	return svc, &fixtures{accounts: accounts, tokens: tokens, sessions: sessions, auditor: auditor, signer: signer}
}

const testPassword = "Password123!abc"

func register(t *testing.T, svc *AuthService) *accountdomain.Account {
	t.Helper()
	a, err := svc.Register(context.Background(), "alice", "alice@example.com", testPassword)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return a
}

func login(t *testing.T, svc *AuthService) *LoginResult {
	t.Helper()
	res, err := svc.Login(context.Background(), "alice", testPassword, sessiondomain.ClientMetadata{UserAgent: "ua", IPAddress: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res
}

// seedAdmin stores an enabled admin account so admin-gated operations pass
// the stored-role check, not just the claims check.
func seedAdmin(t *testing.T, f *fixtures) *accountdomain.Account {
	t.Helper()
	admin := &accountdomain.Account{
		ID:           "admin-1",
		Username:     "root",
		Email:        "root@example.com",
		PasswordHash: "x",
		Roles:        []string{"user", "admin"},
		Enabled:      true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := f.accounts.Create(context.Background(), admin); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	return admin
}

func TestAuthService_Register(t *testing.T) {
	svc, _ := newTestAuthService(t, 0)
	ctx := context.Background()

	a := register(t, svc)
	if a.ID == "" || !a.Enabled || a.EmailVerified {
		t.Errorf("unexpected account: %+v", a)
	}

	if _, err := svc.Register(ctx, "alice", "other@example.com", testPassword); err != ErrUsernameTaken {
		t.Errorf("duplicate username: want ErrUsernameTaken, got %v", err)
	}
	if _, err := svc.Register(ctx, "bob", "alice@example.com", testPassword); err != ErrEmailAlreadyRegistered {
		t.Errorf("duplicate email: want ErrEmailAlreadyRegistered, got %v", err)
	}
}

func TestAuthService_RegisterValidation(t *testing.T) {
	svc, _ := newTestAuthService(t, 0)
	ctx := context.Background()

	cases := []struct {
		name     string
		username string
		email    string
		password string
	}{
		{"empty username", "", "a@b.co", testPassword},
		{"short username", "ab", "a@b.co", testPassword},
		{"bad username chars", "has space", "a@b.co", testPassword},
		{"bad email", "bob", "bad-email", testPassword},
		{"short password", "bob", "a@b.co", "Short1!abc"},
		{"no uppercase", "bob", "a@b.co", "password123!abc"},
		{"no lowercase", "bob", "a@b.co", "PASSWORD123!ABC"},
		{"no number", "bob", "a@b.co", "Password!!!!!abc"},
		{"no symbol", "bob", "a@b.co", "Password1234abcd"},
	}
	for _, tc := range cases {
		if _, err := svc.Register(ctx, tc.username, tc.email, tc.password); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestAuthService_LoginIssuesSessionAndTokens(t *testing.T) {
	svc, f := newTestAuthService(t, 0)
	a := register(t, svc)
	res := login(t, svc)

	if res.AccessToken == "" || res.RefreshToken == "" || res.SessionID == "" {
		t.Fatal("login must return access token, refresh token, and session id")
	}
	if res.AccountID != a.ID {
		t.Errorf("account id: want %q, got %q", a.ID, res.AccountID)
	}

	claims, err := svc.VerifyAccessToken(res.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if claims.Subject != a.ID || claims.Username != "alice" || claims.SessionID != res.SessionID {
		t.Errorf("unexpected claims: %+v", claims)
	}

	sess := f.sessions.get(res.SessionID)
	if sess == nil || !sess.Active {
		t.Fatal("session must exist and be active")
	}
	if sess.IPAddress != "10.0.0.1" {
		t.Errorf("client IP: want 10.0.0.1, got %q", sess.IPAddress)
	}
	if got := f.accounts.get(a.ID); got.LastLoginAt == nil {
		t.Error("last login must be stamped")
	}
	if !f.auditor.has("login_success") {
		t.Error("login_success must be audited")
	}
}

func TestAuthService_LoginByEmail(t *testing.T) {
	svc, _ := newTestAuthService(t, 0)
	register(t, svc)
	if _, err := svc.Login(context.Background(), "alice@example.com", testPassword, sessiondomain.ClientMetadata{}); err != nil {
		t.Fatalf("Login by email: %v", err)
	}
}

func TestAuthService_LoginFailures(t *testing.T) {
	svc, f := newTestAuthService(t, 0)
	a := register(t, svc)
	ctx := context.Background()
	meta := sessiondomain.ClientMetadata{}

	if _, err := svc.Login(ctx, "nobody", testPassword, meta); err != ErrInvalidCredentials {
		t.Errorf("unknown identifier: want ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "alice", "WrongPass123!x", meta); err != ErrInvalidCredentials {
		t.Errorf("wrong password: want ErrInvalidCredentials, got %v", err)
	}
	if got := f.accounts.get(a.ID); got.FailedLoginAttempts != 1 {
		t.Errorf("failed attempts: want 1, got %d", got.FailedLoginAttempts)
	}

	_ = f.accounts.SetEnabled(ctx, a.ID, false, time.Now().UTC())
	if _, err := svc.Login(ctx, "alice", testPassword, meta); err != ErrAccountDisabled {
		t.Errorf("disabled: want ErrAccountDisabled, got %v", err)
	}
	if got := f.accounts.get(a.ID); got.FailedLoginAttempts != 1 {
		t.Error("disabled login must not touch the counter")
	}
	_ = f.accounts.SetEnabled(ctx, a.ID, true, time.Now().UTC())

	_ = f.accounts.SoftDelete(ctx, a.ID, time.Now().UTC())
	if _, err := svc.Login(ctx, "alice", testPassword, meta); err != ErrAccountDeleted {
		t.Errorf("deleted: want ErrAccountDeleted, got %v", err)
	}
	if got := f.accounts.get(a.ID); got.FailedLoginAttempts != 1 {
		t.Error("deleted login must not touch the counter")
	}
}

func TestAuthService_LockoutAfterRepeatedFailures(t *testing.T) {
	svc, f := newTestAuthService(t, 0)
	a := register(t, svc)
	ctx := context.Background()
	meta := sessiondomain.ClientMetadata{}

	for i := 0; i < 5; i++ {
		if _, err := svc.Login(ctx, "alice", "WrongPass123!x", meta); err != ErrInvalidCredentials {
			t.Fatalf("attempt %d: want ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	got := f.accounts.get(a.ID)
	if !got.Locked || got.LockedUntil == nil {
		t.Fatal("account must be locked after 5 failures")
	}
	if !f.auditor.has("account_locked") {
		t.Error("account_locked must be audited")
	}

	// Attempts while locked are rejected without counting, even with the
	// correct password.
	_, err := svc.Login(ctx, "alice", testPassword, meta)
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("locked: want ErrAccountLocked, got %v", err)
	}
	var lockedErr *AccountLockedError
	if !errors.As(err, &lockedErr) {
		t.Fatalf("want *AccountLockedError, got %v", err)
	}
	if !lockedErr.Until.After(time.Now()) {
		t.Error("lock error must carry the unlock time")
	}
	if lockedErr.RetryAfter <= 0 {
		t.Errorf("lock error must carry a positive retry-after, got %v", lockedErr.RetryAfter)
	}
	if got := f.accounts.get(a.ID); got.FailedLoginAttempts != 5 {
		t.Errorf("locked attempt must not increment counter: got %d", got.FailedLoginAttempts)
	}
}

func TestAuthService_ExpiredLockClearsOnSuccess(t *testing.T) {
	svc, f := newTestAuthService(t, 0)
	a := register(t, svc)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	f.accounts.mu.Lock()
	f.accounts.m[a.ID].Locked = true
	f.accounts.m[a.ID].LockedUntil = &past
	f.accounts.m[a.ID].FailedLoginAttempts = 5
	f.accounts.mu.Unlock()

	if _, err := svc.Login(ctx, "alice", testPassword, sessiondomain.ClientMetadata{}); err != nil {
		t.Fatalf("login after lock window: %v", err)
	}
	got := f.accounts.get(a.ID)
	if got.Locked || got.LockedUntil != nil || got.FailedLoginAttempts != 0 {
		t.Errorf("success must clear the lock, got %+v", got)
	}
}

func TestAuthService_SessionCapPolicy(t *testing.T) {
	svc, _ := newTestAuthService(t, 2)
	register(t, svc)
	ctx := context.Background()
	meta := sessiondomain.ClientMetadata{}

	for i := 0; i < 2; i++ {
		if _, err := svc.Login(ctx, "alice", testPassword, meta); err != nil {
			t.Fatalf("login %d: %v", i+1, err)
		}
	}
	if _, err := svc.Login(ctx, "alice", testPassword, meta); err != ErrLoginDenied {
		t.Errorf("over cap: want ErrLoginDenied, got %v", err)
	}
}

func TestAuthService_RefreshRotatesAndTouches(t *testing.T) {
	svc, f := newTestAuthService(t, 0)
	register(t, svc)
	res := login(t, svc)
	ctx := context.Background()

	res2, err := svc.Refresh(ctx, res.RefreshToken, "10.0.0.2")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if res2.RefreshToken == res.RefreshToken {
		t.Error("refresh must rotate the token value")
	}
	if res2.SessionID != res.SessionID {
		t.Error("refresh must stay on the same session")
	}
	sess := f.sessions.get(res.SessionID)
	if sess.LastAccessedAt == nil || sess.LastIPAddress != "10.0.0.2" {
		t.Errorf("refresh must touch the session, got %+v", sess)
	}
	if !f.auditor.has("token_refresh") {
		t.Error("token_refresh must be audited")
	}

	// The chain keeps working.
	if _, err := svc.Refresh(ctx, res2.RefreshToken, ""); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
}

func TestAuthService_RefreshReuseKillsLineageAndSession(t *testing.T) {
	svc, f := newTestAuthService(t, 0)
	register(t, svc)
	res := login(t, svc)
	ctx := context.Background()

	res2, err := svc.Refresh(ctx, res.RefreshToken, "")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Replaying the superseded token is a reuse event.
	if _, err := svc.Refresh(ctx, res.RefreshToken, ""); !errors.Is(err, tokenservice.ErrTokenReused) {
		t.Fatalf("replay: want ErrTokenReused, got %v", err)
	}
	sess := f.sessions.get(res.SessionID)
	if sess.Active {
		t.Fatal("session must be terminated on reuse")
	}
	if sess.TerminationReason != sessiondomain.ReasonRevoked {
		t.Errorf("reason: want revoked, got %s", sess.TerminationReason)
	}
	if !f.auditor.has("token_reuse") {
		t.Error("token_reuse must be audited")
	}

	// The legitimate client's newest token is dead too.
	if _, err := svc.Refresh(ctx, res2.RefreshToken, ""); !errors.Is(err, tokenservice.ErrTokenRevoked) {
		t.Errorf("newest token after reuse: want ErrTokenRevoked, got %v", err)
	}
}

func TestAuthService_RefreshAfterDisableKillsSession(t *testing.T) {
	svc, f := newTestAuthService(t, 0)
	a := register(t, svc)
	res := login(t, svc)
	ctx := context.Background()

	_ = f.accounts.SetEnabled(ctx, a.ID, false, time.Now().UTC())
	if _, err := svc.Refresh(ctx, res.RefreshToken, ""); err != ErrAccountDisabled {
		t.Fatalf("want ErrAccountDisabled, got %v", err)
	}
	if sess := f.sessions.get(res.SessionID); sess.Active {
		t.Error("session must be terminated when the account is disabled")
	}
}

func TestAuthService_RefreshUnknownToken(t *testing.T) {
	svc, _ := newTestAuthService(t, 0)
	if _, err := svc.Refresh(context.Background(), "garbage", ""); !errors.Is(err, tokenservice.ErrTokenNotFound) {
		t.Errorf("want ErrTokenNotFound, got %v", err)
	}
}

func TestAuthService_RefreshRevokedTokenTerminatesSession(t *testing.T) {
	svc, f := newTestAuthService(t, 0)
	register(t, svc)
	res := login(t, svc)
	ctx := context.Background()

	// Revoke the lineage directly, leaving the session active. Presenting
	// the dead token must resolve the session through the root token and
	// shut it down.
	sess := f.sessions.get(res.SessionID)
	_ = f.tokens.RevokeLineage(ctx, sess.RootTokenID, time.Now().UTC())

	if _, err := svc.Refresh(ctx, res.RefreshToken, ""); !errors.Is(err, tokenservice.ErrTokenRevoked) {
		t.Fatalf("want ErrTokenRevoked, got %v", err)
	}
	sess = f.sessions.get(res.SessionID)
	if sess.Active || sess.TerminationReason != sessiondomain.ReasonRevoked {
		t.Errorf("session after revoked refresh: %+v", sess)
	}
}

func TestAuthService_LogoutSingle(t *testing.T) {
	svc, f := newTestAuthService(t, 0)
	a := register(t, svc)
	res := login(t, svc)
	ctx := context.Background()

	if err := svc.Logout(ctx, res.RefreshToken, false); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	sess := f.sessions.get(res.SessionID)
	if sess.Active || sess.TerminationReason != sessiondomain.ReasonSingleLogout {
		t.Errorf("session after logout: %+v", sess)
	}
	if got := f.accounts.get(a.ID); got.LastLogoutAt == nil {
		t.Error("last logout must be stamped")
	}
	if _, err := svc.Refresh(ctx, res.RefreshToken, ""); !errors.Is(err, tokenservice.ErrTokenRevoked) {
		t.Errorf("refresh after logout: want ErrTokenRevoked, got %v", err)
	}
	if !f.auditor.has("logout") {
		t.Error("logout must be audited")
	}
}

func TestAuthService_LogoutGlobal(t *testing.T) {
	svc, f := newTestAuthService(t, 0)
	register(t, svc)
	first := login(t, svc)
	second := login(t, svc)
	ctx := context.Background()

	if err := svc.Logout(ctx, second.RefreshToken, true); err != nil {
		t.Fatalf("global Logout: %v", err)
	}
	for _, res := range []*LoginResult{first, second} {
		sess := f.sessions.get(res.SessionID)
		if sess.Active || sess.TerminationReason != sessiondomain.ReasonGlobalLogout {
			t.Errorf("session %s after global logout: %+v", res.SessionID, sess)
		}
		if _, err := svc.Refresh(ctx, res.RefreshToken, ""); !errors.Is(err, tokenservice.ErrTokenRevoked) {
			t.Errorf("refresh after global logout: want ErrTokenRevoked, got %v", err)
		}
	}
	if !f.auditor.has("global_logout") {
		t.Error("global_logout must be audited")
	}
}

func TestAuthService_LogoutUnknownToken(t *testing.T) {
	svc, _ := newTestAuthService(t, 0)
	if err := svc.Logout(context.Background(), "garbage", false); !errors.Is(err, tokenservice.ErrTokenNotFound) {
		t.Errorf("want ErrTokenNotFound, got %v", err)
	}
}

func TestAuthService_LogoutRejectsNonRefreshToken(t *testing.T) {
	svc, f := newTestAuthService(t, 0)
	register(t, svc)
	res := login(t, svc)
	ctx := context.Background()

	resetToken, err := svc.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}

	// A reset token must not drive the logout protocol, global or not.
	if err := svc.Logout(ctx, resetToken, true); !errors.Is(err, tokenservice.ErrTokenNotFound) {
		t.Fatalf("want ErrTokenNotFound, got %v", err)
	}
	if sess := f.sessions.get(res.SessionID); !sess.Active {
		t.Error("rejected logout must leave the session active")
	}
}

func TestAuthService_ListAndTerminateSessions(t *testing.T) {
	svc, f := newTestAuthService(t, 0)
	a := register(t, svc)
	first := login(t, svc)
	second := login(t, svc)

	ownerCtx := interceptors.WithIdentity(context.Background(), a.ID, first.SessionID, []string{"user"})
	sessions, err := svc.ListSessions(ownerCtx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("active sessions: want 2, got %d", len(sessions))
	}

	if err := svc.TerminateSession(ownerCtx, second.SessionID); err != nil {
		t.Fatalf("TerminateSession: %v", err)
	}
	if sess := f.sessions.get(second.SessionID); sess.Active {
		t.Error("terminated session must be inactive")
	}

	// Unauthenticated callers get Unauthenticated.
	if _, err := svc.ListSessions(context.Background()); status.Code(err) != codes.Unauthenticated {
		t.Errorf("want Unauthenticated, got %v", err)
	}
}

func TestAuthService_TerminateSessionAuthorization(t *testing.T) {
	svc, f := newTestAuthService(t, 0)
	a := register(t, svc)
	res := login(t, svc)

	strangerCtx := interceptors.WithIdentity(context.Background(), "someone-else", "s", []string{"user"})
	if err := svc.TerminateSession(strangerCtx, res.SessionID); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("stranger: want PermissionDenied, got %v", err)
	}
	if sess := f.sessions.get(res.SessionID); !sess.Active {
		t.Fatal("denied termination must not touch the session")
	}

	// Claims that say admin are not enough: the stored account must still
	// carry the role.
	staleAdminCtx := interceptors.WithIdentity(context.Background(), "ex-admin", "s", []string{"user", "admin"})
	_ = f.accounts.Create(context.Background(), &accountdomain.Account{
		ID: "ex-admin", Username: "exadmin", Email: "exadmin@example.com",
		PasswordHash: "x", Roles: []string{"user"}, Enabled: true,
	})
	if err := svc.TerminateSession(staleAdminCtx, res.SessionID); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("revoked admin role: want PermissionDenied, got %v", err)
	}
	if sess := f.sessions.get(res.SessionID); !sess.Active {
		t.Fatal("denied termination must not touch the session")
	}

	seedAdmin(t, f)
	adminCtx := interceptors.WithIdentity(context.Background(), "admin-1", "s", []string{"user", "admin"})
	if err := svc.TerminateSession(adminCtx, res.SessionID); err != nil {
		t.Fatalf("admin: %v", err)
	}
	sess := f.sessions.get(res.SessionID)
	if sess.Active || sess.TerminationReason != sessiondomain.ReasonAdminTerminated {
		t.Errorf("session after admin termination: %+v", sess)
	}

	ownerCtx := interceptors.WithIdentity(context.Background(), a.ID, res.SessionID, []string{"user"})
	if err := svc.TerminateSession(ownerCtx, "missing"); !errors.Is(err, sessionservice.ErrSessionNotFound) {
		t.Errorf("missing session: want ErrSessionNotFound, got %v", err)
	}
}

func TestAuthService_ChangePassword(t *testing.T) {
	svc, f := newTestAuthService(t, 0)
	a := register(t, svc)
	res := login(t, svc)
	ctx := context.Background()
	const newPassword = "NewPassword456!x"

	if err := svc.ChangePassword(ctx, a.ID, "WrongPass123!x", newPassword); err != ErrInvalidCredentials {
		t.Fatalf("wrong current password: want ErrInvalidCredentials, got %v", err)
	}
	if err := svc.ChangePassword(ctx, a.ID, testPassword, newPassword); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	sess := f.sessions.get(res.SessionID)
	if sess.Active || sess.TerminationReason != sessiondomain.ReasonPasswordChanged {
		t.Errorf("session after password change: %+v", sess)
	}
	if _, err := svc.Refresh(ctx, res.RefreshToken, ""); !errors.Is(err, tokenservice.ErrTokenRevoked) {
		t.Errorf("old refresh token: want ErrTokenRevoked, got %v", err)
	}

	if _, err := svc.Login(ctx, "alice", testPassword, sessiondomain.ClientMetadata{}); err != ErrInvalidCredentials {
		t.Errorf("old password: want ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "alice", newPassword, sessiondomain.ClientMetadata{}); err != nil {
		t.Errorf("new password: %v", err)
	}
}

func TestAuthService_PasswordResetFlow(t *testing.T) {
	svc, f := newTestAuthService(t, 0)
	register(t, svc)
	res := login(t, svc)
	ctx := context.Background()
	const newPassword = "NewPassword456!x"

	// Unknown addresses get empty without error.
	if v, err := svc.RequestPasswordReset(ctx, "nobody@example.com"); err != nil || v != "" {
		t.Fatalf("unknown email: want empty, got %q err=%v", v, err)
	}

	resetToken, err := svc.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if resetToken == "" {
		t.Fatal("expected a reset token")
	}

	if err := svc.CompletePasswordReset(ctx, resetToken, newPassword); err != nil {
		t.Fatalf("CompletePasswordReset: %v", err)
	}
	if sess := f.sessions.get(res.SessionID); sess.Active {
		t.Error("reset must terminate existing sessions")
	}
	if _, err := svc.Login(ctx, "alice", newPassword, sessiondomain.ClientMetadata{}); err != nil {
		t.Errorf("login with reset password: %v", err)
	}

	// One-shot: spending the token again fails.
	if err := svc.CompletePasswordReset(ctx, resetToken, "OtherPassword789!x"); !errors.Is(err, tokenservice.ErrTokenRevoked) {
		t.Errorf("replayed reset token: want ErrTokenRevoked, got %v", err)
	}
}

func TestAuthService_EmailVerificationFlow(t *testing.T) {
	svc, f := newTestAuthService(t, 0)
	a := register(t, svc)
	ctx := context.Background()

	v, err := svc.RequestEmailVerification(ctx, a.ID)
	if err != nil {
		t.Fatalf("RequestEmailVerification: %v", err)
	}
	if v == "" {
		t.Fatal("expected a verification token")
	}
	if err := svc.VerifyEmail(ctx, v); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	if got := f.accounts.get(a.ID); !got.EmailVerified {
		t.Error("account must be verified")
	}
	// Already verified accounts get empty without error.
	if v, err := svc.RequestEmailVerification(ctx, a.ID); err != nil || v != "" {
		t.Errorf("verified account: want empty, got %q err=%v", v, err)
	}
}

func TestAuthService_DeleteAccount(t *testing.T) {
	svc, f := newTestAuthService(t, 0)
	a := register(t, svc)
	res := login(t, svc)
	ctx := context.Background()

	if err := svc.DeleteAccount(ctx, a.ID, "WrongPass123!x"); err != ErrInvalidCredentials {
		t.Fatalf("wrong password: want ErrInvalidCredentials, got %v", err)
	}
	if err := svc.DeleteAccount(ctx, a.ID, testPassword); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}

	got := f.accounts.get(a.ID)
	if !got.Deleted {
		t.Fatal("account must be soft deleted")
	}
	sess := f.sessions.get(res.SessionID)
	if sess.Active || sess.TerminationReason != sessiondomain.ReasonAccountDeleted {
		t.Errorf("session after deletion: %+v", sess)
	}
	if _, err := svc.Login(ctx, "alice", testPassword, sessiondomain.ClientMetadata{}); err != ErrAccountDeleted {
		t.Errorf("login after deletion: want ErrAccountDeleted, got %v", err)
	}
	if err := svc.DeleteAccount(ctx, a.ID, testPassword); err != ErrAccountNotFound {
		t.Errorf("double delete: want ErrAccountNotFound, got %v", err)
	}
}

func TestAuthService_SetAccountEnabled(t *testing.T) {
	svc, f := newTestAuthService(t, 0)
	a := register(t, svc)
	res := login(t, svc)

	userCtx := interceptors.WithIdentity(context.Background(), a.ID, res.SessionID, []string{"user"})
	if err := svc.SetAccountEnabled(userCtx, a.ID, false); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("non-admin: want PermissionDenied, got %v", err)
	}

	seedAdmin(t, f)
	adminCtx := interceptors.WithIdentity(context.Background(), "admin-1", "s", []string{"admin"})
	if err := svc.SetAccountEnabled(adminCtx, a.ID, false); err != nil {
		t.Fatalf("SetAccountEnabled: %v", err)
	}
	if got := f.accounts.get(a.ID); got.Enabled {
		t.Fatal("account must be disabled")
	}
	if sess := f.sessions.get(res.SessionID); sess.Active {
		t.Error("disabling must terminate sessions")
	}
}

func TestAuthService_IdentifierNormalization(t *testing.T) {
	svc, _ := newTestAuthService(t, 0)
	if _, err := svc.Register(context.Background(), "  Alice ", "Alice@Example.com", testPassword); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res, err := svc.Login(context.Background(), " ALICE@example.com ", testPassword, sessiondomain.ClientMetadata{})
	if err != nil {
		t.Fatalf("Login with unnormalized identifier: %v", err)
	}
	claims, err := svc.VerifyAccessToken(res.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if claims.Username != "alice" || !strings.Contains(claims.Email, "alice@example.com") {
		t.Errorf("claims must carry normalized identity: %+v", claims)
	}
}
