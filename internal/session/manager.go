package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/obs"
)

// Config bounds session lifetimes and counts.
type Config struct {
	DefaultDuration    time.Duration `yaml:"default_duration"`
	RememberMeDuration time.Duration `yaml:"remember_me_duration"`
	MaxSessionsPerUser int           `yaml:"max_sessions_per_user"`
}

// DefaultConfig returns 24h sessions, 30 day remember-me and five sessions per user.
func DefaultConfig() Config {
	return Config{
		DefaultDuration:    24 * time.Hour,
		RememberMeDuration: 30 * 24 * time.Hour,
		MaxSessionsPerUser: 5,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DefaultDuration <= 0 {
		c.DefaultDuration = def.DefaultDuration
	}
	if c.RememberMeDuration <= 0 {
		c.RememberMeDuration = def.RememberMeDuration
	}
	if c.MaxSessionsPerUser <= 0 {
		c.MaxSessionsPerUser = def.MaxSessionsPerUser
	}
	return c
}

// CreateRequest describes a new session. Duration wins over RememberMe.
type CreateRequest struct {
	UserID     string
	RememberMe bool
	Duration   time.Duration
	IPAddress  string
	UserAgent  string
}

// Manager drives the session lifecycle on top of a Store.
type Manager struct {
	store Store
	cfg   Config
	now   func() time.Time
	token func() (string, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithTokenGenerator overrides GenerateToken.
func WithTokenGenerator(fn func() (string, error)) Option {
	return func(m *Manager) {
		if fn != nil {
			m.token = fn
		}
	}
}

// NewManager returns a Manager over store. Zero config fields take defaults.
func NewManager(store Store, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		token: GenerateToken,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Now returns the manager's current time in UTC.
func (m *Manager) Now() time.Time { return m.now().UTC() }

// Create starts a session, evicting the user's oldest sessions so that at
// most MaxSessionsPerUser remain active.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (Session, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return Session{}, errors.New("session: user id is required")
	}
	token, err := m.token()
	if err != nil {
		return Session{}, err
	}
	now := m.Now()
	duration := m.cfg.DefaultDuration
	switch {
	case req.Duration > 0:
		duration = req.Duration
	case req.RememberMe:
		duration = m.cfg.RememberMeDuration
	}

	if err := m.evict(ctx, req.UserID, now); err != nil {
		return Session{}, err
	}

	s := Session{
		ID:             ids.NewAt(now),
		UserID:         req.UserID,
		RefreshToken:   token,
		ExpiresAt:      now.Add(duration),
		CreatedAt:      now,
		LastActivityAt: now,
		IPAddress:      req.IPAddress,
		UserAgent:      req.UserAgent,
	}
	if err := m.store.Create(ctx, s); err != nil {
		return Session{}, fmt.Errorf("session: create: %w", err)
	}
	obs.ObserveSession("created", 1)
	return s, nil
}

func (m *Manager) evict(ctx context.Context, userID string, now time.Time) error {
	active, err := m.active(ctx, userID, now)
	if err != nil {
		return err
	}
	excess := len(active) - (m.cfg.MaxSessionsPerUser - 1)
	if excess <= 0 {
		return nil
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	for _, s := range active[:excess] {
		if err := m.store.Delete(ctx, s.ID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return fmt.Errorf("session: evict %s: %w", s.ID, err)
		}
	}
	obs.ObserveSession("evicted", excess)
	return nil
}

// Validate resolves token to an active session and records activity.
func (m *Manager) Validate(ctx context.Context, token string) (Session, error) {
	if !ValidTokenFormat(token) {
		return Session{}, ErrInvalidToken
	}
	s, err := m.store.FindByToken(ctx, token)
	if err != nil {
		return Session{}, err
	}
	now := m.Now()
	if !s.Active(now) {
		return Session{}, ErrSessionExpired
	}
	s.LastActivityAt = now
	if err := m.store.Update(ctx, s); err != nil {
		return Session{}, fmt.Errorf("session: touch: %w", err)
	}
	return s, nil
}

// Get returns the session with id regardless of its state.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	return m.store.FindByID(ctx, id)
}

// Refresh pushes the expiry of an active session to now+extend. A zero
// extend uses the default duration.
func (m *Manager) Refresh(ctx context.Context, id string, extend time.Duration) (Session, error) {
	s, err := m.store.FindByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	now := m.Now()
	if !s.Active(now) {
		return Session{}, ErrSessionExpired
	}
	if extend <= 0 {
		extend = m.cfg.DefaultDuration
	}
	s.ExpiresAt = now.Add(extend)
	s.LastActivityAt = now
	if err := m.store.Update(ctx, s); err != nil {
		return Session{}, fmt.Errorf("session: refresh: %w", err)
	}
	obs.ObserveSession("refreshed", 1)
	return s, nil
}

// Deactivate expires the session immediately by moving its expiry to the epoch.
func (m *Manager) Deactivate(ctx context.Context, id string) error {
	s, err := m.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	s.ExpiresAt = time.Unix(0, 0).UTC()
	if err := m.store.Update(ctx, s); err != nil {
		return fmt.Errorf("session: deactivate: %w", err)
	}
	obs.ObserveSession("deactivated", 1)
	return nil
}

// DeactivateAll expires every active session of userID and returns how many.
func (m *Manager) DeactivateAll(ctx context.Context, userID string) (int, error) {
	active, err := m.active(ctx, userID, m.Now())
	if err != nil {
		return 0, err
	}
	for _, s := range active {
		s.ExpiresAt = time.Unix(0, 0).UTC()
		if err := m.store.Update(ctx, s); err != nil {
			return 0, fmt.Errorf("session: deactivate %s: %w", s.ID, err)
		}
	}
	obs.ObserveSession("deactivated", len(active))
	return len(active), nil
}

// ActiveSessions returns the user's unexpired sessions, newest first.
func (m *Manager) ActiveSessions(ctx context.Context, userID string) ([]Session, error) {
	active, err := m.active(ctx, userID, m.Now())
	if err != nil {
		return nil, err
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	return active, nil
}

// MostRecent returns the active session with the latest activity.
func (m *Manager) MostRecent(ctx context.Context, userID string) (Session, error) {
	active, err := m.active(ctx, userID, m.Now())
	if err != nil {
		return Session{}, err
	}
	if len(active) == 0 {
		return Session{}, ErrSessionNotFound
	}
	best := active[0]
	for _, s := range active[1:] {
		if s.LastActivityAt.After(best.LastActivityAt) {
			best = s
		}
	}
	return best, nil
}

// Cleanup deletes every session that has expired and returns the count.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	n, err := m.store.DeleteExpired(ctx, m.Now())
	if err != nil {
		return 0, fmt.Errorf("session: cleanup: %w", err)
	}
	obs.ObserveSession("purged", n)
	return n, nil
}

func (m *Manager) active(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	all, err := m.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	out := all[:0]
	for _, s := range all {
		if s.Active(now) {
			out = append(out, s)
		}
	}
	return out, nil
}
