package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gatehouse.org/internal/session"
	"gatehouse.org/internal/token"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time           { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	svc     *Service
	users   *MemoryUserStore
	storage *token.MemoryStorage
	clock   *testClock
	user    *User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)}
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user := &User{ID: "u-1", Email: "Alice@Example.com", Name: "Alice", PasswordHash: hash,
		Role: &Role{ID: "r-user", Name: "USER", Permissions: []Permission{{Name: PermUsersRead}}}}
	users := NewMemoryUserStore(user)

	manager := session.NewManager(session.NewMemoryStore(), session.Config{}, session.WithClock(clock.Now))
	security := session.NewSecurity(manager, session.NewEventLog(0), session.SecurityConfig{})
	tokens, err := token.NewManager("access-secret", "refresh-secret", token.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("token.NewManager: %v", err)
	}
	storage := token.NewMemoryStorage(clock.Now)
	svc := NewService(users, security, tokens, WithTokenStorage(storage))
	return &fixture{svc: svc, users: users, storage: storage, clock: clock, user: user}
}

func (f *fixture) login(t *testing.T) *LoginResponse {
	t.Helper()
	resp, err := f.svc.Login(context.Background(), Credentials{
		Email: "alice@example.com", Password: "s3cret-pass", IPAddress: "10.0.0.1", UserAgent: "test",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return resp
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)
	resp := f.login(t)

	if resp.User.ID != "u-1" {
		t.Fatalf("unexpected user %q", resp.User.ID)
	}
	if resp.User.LastLoginAt == nil || !resp.User.LastLoginAt.Equal(f.clock.now) {
		t.Fatalf("last login not set: %v", resp.User.LastLoginAt)
	}
	if resp.Session.UserID != "u-1" || resp.Session.IPAddress != "10.0.0.1" {
		t.Fatalf("unexpected session %+v", resp.Session)
	}
	if !resp.Session.ExpiresAt.Equal(f.clock.now.Add(24 * time.Hour)) {
		t.Fatalf("unexpected session expiry %v", resp.Session.ExpiresAt)
	}
	stored, err := f.users.FindByID(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.LastLoginAt == nil {
		t.Fatal("last login was not persisted")
	}
	sp, err := f.storage.Load(context.Background(), "u-1", resp.Session.ID)
	if err != nil {
		t.Fatalf("token pair not stored: %v", err)
	}
	if sp.RefreshToken != resp.Tokens.RefreshToken {
		t.Fatal("stored refresh token differs from issued one")
	}
	if got := f.svc.Security().Events().ByType(session.EventLoginSuccess); len(got) != 1 {
		t.Fatalf("expected one login_success event, got %d", len(got))
	}
	created := f.svc.Security().Events().ByType(session.EventSessionCreated)
	if len(created) != 1 || created[0].SessionID != resp.Session.ID {
		t.Fatalf("expected one session_created event for %s, got %+v", resp.Session.ID, created)
	}
	_, claims, err := f.svc.Authenticate(context.Background(), resp.Tokens.AccessToken)
	if err != nil || claims.SessionID != resp.Session.ID {
		t.Fatalf("access token not bound to session: %+v %v", claims, err)
	}
}

func TestLoginValidation(t *testing.T) {
	f := newFixture(t)
	cases := []Credentials{
		{Email: "", Password: "x"},
		{Email: "no-at-sign", Password: "x"},
		{Email: "@example.com", Password: "x"},
		{Email: "alice@", Password: "x"},
		{Email: "alice@example.com"},
	}
	for _, c := range cases {
		_, err := f.svc.Login(context.Background(), c)
		var verr *ValidationError
		if !errors.As(err, &verr) || !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%+v: expected validation error, got %v", c, err)
		}
	}
}

func TestLoginFailuresLockOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bad := Credentials{Email: "alice@example.com", Password: "wrong"}

	for i := 0; i < 5; i++ {
		if _, err := f.svc.Login(ctx, bad); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i, err)
		}
		f.clock.Advance(time.Minute)
	}
	_, err := f.svc.Login(ctx, Credentials{Email: "alice@example.com", Password: "s3cret-pass"})
	var rl *RateLimitError
	if !errors.As(err, &rl) || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if !strings.Contains(err.Error(), "try again in 10 minutes") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if got := len(f.svc.Security().Events().ByType(session.EventLoginFailure)); got != 5 {
		t.Fatalf("expected 5 failure events, got %d", got)
	}

	f.clock.Advance(15 * time.Minute)
	f.login(t)
}

func TestLoginUnknownEmailLooksLikeBadPassword(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Login(context.Background(), Credentials{Email: "bob@example.com", Password: "whatever"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestRefreshRotatesAndExtendsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp := f.login(t)

	f.clock.Advance(time.Hour)
	pair, err := f.svc.Refresh(ctx, resp.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	user, claims, err := f.svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.ID != "u-1" || claims.Email != "alice@example.com" {
		t.Fatalf("payload changed: %s %s", user.ID, claims.Email)
	}
	sess, err := f.svc.Sessions().Get(ctx, resp.Session.ID)
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if !sess.ExpiresAt.Equal(f.clock.now.Add(24 * time.Hour)) {
		t.Fatalf("session not extended: %v", sess.ExpiresAt)
	}

	if _, err := f.svc.Refresh(ctx, resp.Tokens.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("superseded refresh token must be rejected, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, "junk"); !errors.Is(err, ErrUnauthorized) || !errors.Is(err, token.ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.login(t)
	second := f.login(t)

	if _, err := f.svc.Logout(ctx, "someone-else", first.Session.ID, false); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	n, err := f.svc.Logout(ctx, "u-1", first.Session.ID, false)
	if err != nil || n != 1 {
		t.Fatalf("Logout single: n=%d err=%v", n, err)
	}
	if _, err := f.svc.Sessions().Validate(ctx, first.Session.RefreshToken); !errors.Is(err, session.ErrSessionExpired) {
		t.Fatalf("session should be expired, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, first.Tokens.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("refresh of the ended session must fail, got %v", err)
	}
	second.Tokens, err = f.svc.Refresh(ctx, second.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("other session must stay refreshable after single logout: %v", err)
	}

	third := f.login(t)
	n, err = f.svc.Logout(ctx, "u-1", "", true)
	if err != nil || n != 2 {
		t.Fatalf("Logout all: n=%d err=%v", n, err)
	}
	if _, err := f.svc.Sessions().Validate(ctx, third.Session.RefreshToken); !errors.Is(err, session.ErrSessionExpired) {
		t.Fatalf("session should be expired, got %v", err)
	}
	for _, pair := range []token.Pair{second.Tokens, third.Tokens} {
		if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("refresh after logout of all sessions must fail, got %v", err)
		}
	}
	if _, err := f.svc.Logout(ctx, "u-1", "", false); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.svc.Logout(ctx, "u-1", "missing", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentSessionsRefreshIndependently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	laptop := f.login(t)
	f.clock.Advance(time.Minute)
	phone := f.login(t)

	f.clock.Advance(time.Hour)
	laptopPair, err := f.svc.Refresh(ctx, laptop.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("laptop refresh: %v", err)
	}
	phonePair, err := f.svc.Refresh(ctx, phone.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("phone refresh: %v", err)
	}

	for name, tc := range map[string]struct {
		pair token.Pair
		sid  string
	}{
		"laptop": {laptopPair, laptop.Session.ID},
		"phone":  {phonePair, phone.Session.ID},
	} {
		_, claims, err := f.svc.Authenticate(ctx, tc.pair.AccessToken)
		if err != nil {
			t.Fatalf("%s: Authenticate: %v", name, err)
		}
		if claims.SessionID != tc.sid {
			t.Fatalf("%s: refreshed token bound to %q, want %q", name, claims.SessionID, tc.sid)
		}
		sess, err := f.svc.Sessions().Get(ctx, tc.sid)
		if err != nil {
			t.Fatalf("%s: Get session: %v", name, err)
		}
		if !sess.ExpiresAt.Equal(f.clock.now.Add(24 * time.Hour)) {
			t.Fatalf("%s: session not extended: %v", name, sess.ExpiresAt)
		}
	}
}

func TestRefreshRejectsTerminatedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp := f.login(t)

	if err := f.svc.Sessions().Deactivate(ctx, resp.Session.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, resp.Tokens.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("refresh of a deactivated session must fail, got %v", err)
	}
	if _, err := f.storage.Load(ctx, "u-1", resp.Session.ID); !errors.Is(err, token.ErrNotStored) {
		t.Fatalf("stored pair should be dropped, got %v", err)
	}
}

func TestAuthenticateRejectsRefreshAndExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resp := f.login(t)

	if _, _, err := f.svc.Authenticate(ctx, resp.Tokens.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("refresh token must not authenticate, got %v", err)
	}
	f.clock.Advance(16 * time.Minute)
	_, _, err := f.svc.Authenticate(ctx, resp.Tokens.AccessToken)
	if !errors.Is(err, token.ErrExpiredToken) {
		t.Fatalf("expected expired token, got %v", err)
	}
}
