// Package token issues and verifies signed access/refresh token pairs.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"

	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultIssuer     = "gatehouse"
)

var (
	ErrInvalidToken = errors.New("token: invalid")
	ErrExpiredToken = errors.New("token: expired")
)

// Payload identifies the user a token is issued for and, when set, the
// session the pair belongs to.
type Payload struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	SessionID string `json:"session_id,omitempty"`
}

// Claims are the signed token contents.
type Claims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	SessionID string `json:"sid,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Payload returns the user portion of the claims.
func (c *Claims) Payload() Payload {
	return Payload{UserID: c.UserID, Email: c.Email, SessionID: c.SessionID}
}

// Pair is an access token together with its refresh token.
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// ExpiresIn is the access token lifetime in whole seconds from now.
func (p Pair) ExpiresIn(now time.Time) int64 {
	if d := p.AccessExpiresAt.Sub(now); d > 0 {
		return int64(d / time.Second)
	}
	return 0
}

// Manager signs and verifies HS256 tokens with separate access and refresh secrets.
type Manager struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithIssuer sets the iss claim.
func WithIssuer(issuer string) Option {
	return func(m *Manager) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			m.issuer = issuer
		}
	}
}

// WithTTLs sets the access and refresh lifetimes; non-positive values keep the defaults.
func WithTTLs(access, refresh time.Duration) Option {
	return func(m *Manager) {
		if access > 0 {
			m.accessTTL = access
		}
		if refresh > 0 {
			m.refreshTTL = refresh
		}
	}
}

// WithClock overrides the time source used for issuing and verifying.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager returns a Manager. Both secrets are required and must differ.
func NewManager(accessSecret, refreshSecret string, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(accessSecret) == "" || strings.TrimSpace(refreshSecret) == "" {
		return nil, errors.New("token: access and refresh secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("token: access and refresh secrets must differ")
	}
	m := &Manager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		issuer:        DefaultIssuer,
		accessTTL:     DefaultAccessTTL,
		refreshTTL:    DefaultRefreshTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.accessTTL }

// GeneratePair issues a fresh access and refresh token for p.
func (m *Manager) GeneratePair(p Payload) (Pair, error) {
	access, accessExp, err := m.sign(p, TypeAccess)
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshExp, err := m.sign(p, TypeRefresh)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// GenerateAccess issues an access token only.
func (m *Manager) GenerateAccess(p Payload) (string, error) {
	tok, _, err := m.sign(p, TypeAccess)
	return tok, err
}

// GenerateRefresh issues a refresh token only.
func (m *Manager) GenerateRefresh(p Payload) (string, error) {
	tok, _, err := m.sign(p, TypeRefresh)
	return tok, err
}

// VerifyAccess validates an access token and returns its claims.
func (m *Manager) VerifyAccess(raw string) (*Claims, error) {
	return m.verify(raw, TypeAccess)
}

// VerifyRefresh validates a refresh token and returns its claims.
func (m *Manager) VerifyRefresh(raw string) (*Claims, error) {
	return m.verify(raw, TypeRefresh)
}

// Refresh verifies refreshToken and issues a new pair for the same payload.
func (m *Manager) Refresh(refreshToken string) (Pair, *Claims, error) {
	claims, err := m.VerifyRefresh(refreshToken)
	if err != nil {
		return Pair{}, nil, err
	}
	pair, err := m.GeneratePair(claims.Payload())
	if err != nil {
		return Pair{}, nil, err
	}
	return pair, claims, nil
}

func (m *Manager) sign(p Payload, kind string) (string, time.Time, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return "", time.Time{}, errors.New("token: user id is required")
	}
	now := m.now().UTC().Truncate(time.Second)
	ttl, secret := m.accessTTL, m.accessSecret
	if kind == TypeRefresh {
		ttl, secret = m.refreshTTL, m.refreshSecret
	}
	exp := now.Add(ttl)
	claims := Claims{
		UserID:    p.UserID,
		Email:     p.Email,
		SessionID: p.SessionID,
		TokenType: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: sign %s: %w", kind, err)
	}
	return signed, exp, nil
}

func (m *Manager) verify(raw, kind string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	secret := m.accessSecret
	if kind == TypeRefresh {
		secret = m.refreshSecret
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	claims := &Claims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.TokenType != kind {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, kind, claims.TokenType)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}
	return claims, nil
}
