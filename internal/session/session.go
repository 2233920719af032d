// Package session tracks server-side login sessions: creation with a
// per-user cap, validation, refresh, deactivation, periodic cleanup and the
// security layer (rate limits, suspicious-activity scoring, event log).
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// TokenLength is the length of a session token in hex characters.
const TokenLength = 64

var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrSessionExpired  = errors.New("session: expired")
	ErrInvalidToken    = errors.New("session: invalid token")
)

// Session is one server-tracked login.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	RefreshToken   string    `json:"-"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
}

// Active reports whether s has not yet expired at now.
func (s Session) Active(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// GenerateToken returns hex(sha256(32 random bytes | unix nanos | 16 byte salt)).
func GenerateToken() (string, error) {
	buf := make([]byte, 32+8+16)
	if _, err := rand.Read(buf[:32]); err != nil {
		return "", fmt.Errorf("session: read random: %w", err)
	}
	binary.BigEndian.PutUint64(buf[32:40], uint64(time.Now().UnixNano()))
	if _, err := rand.Read(buf[40:]); err != nil {
		return "", fmt.Errorf("session: read salt: %w", err)
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

// ValidTokenFormat reports whether token is 64 lowercase hex characters.
func ValidTokenFormat(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
