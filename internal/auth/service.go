package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/session"
	"gatehouse.org/internal/token"
)

// Credentials is a login request.
type Credentials struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
	IPAddress  string `json:"-"`
	UserAgent  string `json:"-"`
}

// Validate checks the shape of the credentials.
func (c Credentials) Validate() error {
	email := strings.TrimSpace(c.Email)
	if email == "" {
		return Invalid("email", "is required")
	}
	if at := strings.Index(email, "@"); at <= 0 || at == len(email)-1 {
		return Invalid("email", "must be a valid email address")
	}
	if c.Password == "" {
		return Invalid("password", "is required")
	}
	return nil
}

// LoginResponse is the result of a successful login.
type LoginResponse struct {
	User    *User           `json:"user"`
	Tokens  token.Pair      `json:"tokens"`
	Session session.Session `json:"session"`
}

// Service runs the login, logout, refresh and authenticate flows.
type Service struct {
	users    UserStore
	sessions *session.Manager
	security *session.Security
	tokens   *token.Manager
	storage  token.Storage
	limiter  *session.LoginLimiter
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithTokenStorage persists issued pairs. Refresh then only accepts the
// stored refresh token.
func WithTokenStorage(s token.Storage) ServiceOption {
	return func(svc *Service) { svc.storage = s }
}

// WithLoginLimiter replaces the default failed-login limiter.
func WithLoginLimiter(l *session.LoginLimiter) ServiceOption {
	return func(svc *Service) {
		if l != nil {
			svc.limiter = l
		}
	}
}

// NewService wires the login flow.
func NewService(users UserStore, security *session.Security, tokens *token.Manager, opts ...ServiceOption) *Service {
	m := security.Manager()
	svc := &Service{
		users:    users,
		sessions: m,
		security: security,
		tokens:   tokens,
		now:      m.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.limiter == nil {
		svc.limiter = session.NewLoginLimiter(session.DefaultLoginLimiterConfig(), svc.now)
	}
	return svc
}

// Sessions returns the session manager.
func (s *Service) Sessions() *session.Manager { return s.sessions }

// Security returns the session security layer.
func (s *Service) Security() *session.Security { return s.security }

// Login verifies credentials and starts a session.
func (s *Service) Login(ctx context.Context, creds Credentials) (*LoginResponse, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	key := normalizeEmail(creds.Email)
	if locked, retry := s.limiter.Check(key); locked {
		s.security.Record(session.Event{
			Type:      session.EventLoginLocked,
			IPAddress: creds.IPAddress,
			Severity:  session.SeverityHigh,
			Details:   map[string]any{"email": key, "retry_after": retry.String()},
		})
		obs.ObserveLogin("locked")
		return nil, &RateLimitError{RetryAfter: retry}
	}

	user, err := s.users.FindByEmail(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, s.loginFailed(ctx, key, "", creds.IPAddress, "unknown email")
	case err != nil:
		return nil, fmt.Errorf("auth: find user: %w", err)
	}
	if err := VerifyPassword(user.PasswordHash, creds.Password); err != nil {
		return nil, s.loginFailed(ctx, key, user.ID, creds.IPAddress, "bad password")
	}
	s.limiter.Reset(key)

	sess, err := s.sessions.Create(ctx, session.CreateRequest{
		UserID:     user.ID,
		RememberMe: creds.RememberMe,
		IPAddress:  creds.IPAddress,
		UserAgent:  creds.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	pair, err := s.tokens.GeneratePair(token.Payload{UserID: user.ID, Email: user.Email, SessionID: sess.ID})
	if err != nil {
		_ = s.sessions.Deactivate(ctx, sess.ID)
		return nil, err
	}
	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("auth: update last login: %w", err)
	}
	user.LastLoginAt = &now
	s.persist(ctx, user.ID, sess.ID, pair)

	s.security.Record(session.Event{
		Type:      session.EventSessionCreated,
		UserID:    user.ID,
		SessionID: sess.ID,
		IPAddress: creds.IPAddress,
		Details:   map[string]any{"expires_at": sess.ExpiresAt},
	})
	s.security.Record(session.Event{
		Type:      session.EventLoginSuccess,
		UserID:    user.ID,
		SessionID: sess.ID,
		IPAddress: creds.IPAddress,
		Details:   map[string]any{"remember_me": creds.RememberMe},
	})
	obs.ObserveLogin("success")
	_ = audit.LogEvent(audit.WithActor(ctx, user.ID), "auth.login", map[string]any{
		"session_id": sess.ID,
		"ip":         creds.IPAddress,
	})
	return &LoginResponse{User: user, Tokens: pair, Session: sess}, nil
}

func (s *Service) loginFailed(ctx context.Context, key, userID, ip, why string) error {
	left := s.limiter.RecordFailure(key)
	s.security.Record(session.Event{
		Type:      session.EventLoginFailure,
		UserID:    userID,
		IPAddress: ip,
		Severity:  session.SeverityMedium,
		Details:   map[string]any{"email": key, "reason": why, "attempts_left": left},
	})
	obs.ObserveLogin("failure")
	_ = audit.LogEvent(ctx, "auth.login_failed", map[string]any{
		"email":         key,
		"reason":        why,
		"attempts_left": left,
	})
	return ErrInvalidCredentials
}

// Logout ends sessionID, or every session of userID when all is set. It
// returns the number of sessions ended.
func (s *Service) Logout(ctx context.Context, userID, sessionID string, all bool) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, Invalid("user_id", "is required")
	}
	n := 0
	if all {
		count, err := s.sessions.DeactivateAll(ctx, userID)
		if err != nil {
			return 0, err
		}
		n = count
	} else {
		if strings.TrimSpace(sessionID) == "" {
			return 0, Invalid("session_id", "is required unless all sessions are ended")
		}
		sess, err := s.sessions.Get(ctx, sessionID)
		if errors.Is(err, session.ErrSessionNotFound) {
			return 0, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		if err != nil {
			return 0, err
		}
		if sess.UserID != userID {
			return 0, fmt.Errorf("%w: session belongs to another user", ErrForbidden)
		}
		if err := s.sessions.Deactivate(ctx, sessionID); err != nil {
			return 0, err
		}
		n = 1
	}
	if s.storage != nil {
		var err error
		if all {
			err = s.storage.ClearAll(ctx, userID)
		} else {
			err = s.storage.Clear(ctx, userID, sessionID)
		}
		if err != nil {
			obs.Logger().WithError(err).WithField("user_id", userID).Warn("clear stored tokens failed")
		}
	}
	s.security.Record(session.Event{
		Type:      session.EventLogout,
		UserID:    userID,
		SessionID: sessionID,
		Details:   map[string]any{"all": all, "ended": n},
	})
	_ = audit.LogEvent(audit.WithActor(ctx, userID), "auth.logout", map[string]any{"all": all, "ended": n})
	return n, nil
}

// Refresh exchanges a refresh token for a new pair and extends the session
// the token was issued for. Tokens without a session extend the user's most
// recently used session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (token.Pair, error) {
	pair, claims, err := s.tokens.Refresh(refreshToken)
	if err != nil {
		return token.Pair{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if s.storage != nil {
		stored, err := s.storage.Load(ctx, claims.UserID, claims.SessionID)
		switch {
		case errors.Is(err, token.ErrNotStored):
			return token.Pair{}, fmt.Errorf("%w: refresh token revoked", ErrUnauthorized)
		case err != nil:
			return token.Pair{}, err
		case stored.RefreshToken != refreshToken:
			return token.Pair{}, fmt.Errorf("%w: refresh token superseded", ErrUnauthorized)
		}
	}
	if _, err := s.users.FindByID(ctx, claims.UserID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return token.Pair{}, fmt.Errorf("%w: user no longer exists", ErrUnauthorized)
		}
		return token.Pair{}, err
	}

	if claims.SessionID != "" {
		sess, err := s.sessions.Get(ctx, claims.SessionID)
		if errors.Is(err, session.ErrSessionNotFound) || (err == nil && (sess.UserID != claims.UserID || !sess.Active(s.sessions.Now()))) {
			if s.storage != nil {
				_ = s.storage.Clear(ctx, claims.UserID, claims.SessionID)
			}
			return token.Pair{}, fmt.Errorf("%w: session ended", ErrUnauthorized)
		}
		if err != nil {
			return token.Pair{}, err
		}
		s.persist(ctx, claims.UserID, sess.ID, pair)
		s.extend(ctx, sess)
		return pair, nil
	}

	if sess, err := s.sessions.MostRecent(ctx, claims.UserID); err == nil {
		s.extend(ctx, sess)
	} else if !errors.Is(err, session.ErrSessionNotFound) {
		obs.Logger().WithError(err).WithField("user_id", claims.UserID).Warn("session lookup failed")
	}
	return pair, nil
}

func (s *Service) extend(ctx context.Context, sess session.Session) {
	if _, err := s.sessions.Refresh(ctx, sess.ID, 0); err != nil {
		obs.Logger().WithError(err).WithField("session_id", sess.ID).Warn("session refresh failed")
		return
	}
	s.security.Record(session.Event{
		Type:      session.EventSessionRefreshed,
		UserID:    sess.UserID,
		SessionID: sess.ID,
	})
}

// Authenticate resolves an access token to its user.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*User, *token.Claims, error) {
	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	user, err := s.users.FindByID(ctx, claims.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: user no longer exists", ErrUnauthorized)
	}
	if err != nil {
		return nil, nil, err
	}
	return user, claims, nil
}

func (s *Service) persist(ctx context.Context, userID, sessionID string, pair token.Pair) {
	if s.storage == nil {
		return
	}
	sp := token.StoredPair{UserID: userID, SessionID: sessionID, Pair: pair}
	if err := s.storage.Save(ctx, sp); err != nil {
		obs.Logger().WithError(err).WithFields(map[string]any{
			"user_id":    userID,
			"session_id": sessionID,
		}).Warn("store token pair failed")
	}
}
