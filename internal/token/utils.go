package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Decode parses raw without verifying its signature or expiry. Use it for
// display and scheduling only, never for authorization.
func Decode(raw string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// ExpiresAt returns the exp claim of raw.
func ExpiresAt(raw string) (time.Time, error) {
	claims, err := Decode(raw)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: no exp claim", ErrInvalidToken)
	}
	return claims.ExpiresAt.Time, nil
}

// IssuedAt returns the iat claim of raw.
func IssuedAt(raw string) (time.Time, error) {
	claims, err := Decode(raw)
	if err != nil {
		return time.Time{}, err
	}
	if claims.IssuedAt == nil {
		return time.Time{}, fmt.Errorf("%w: no iat claim", ErrInvalidToken)
	}
	return claims.IssuedAt.Time, nil
}

// Remaining returns the time left before raw expires, never negative.
func Remaining(raw string, now time.Time) (time.Duration, error) {
	exp, err := ExpiresAt(raw)
	if err != nil {
		return 0, err
	}
	if d := exp.Sub(now); d > 0 {
		return d, nil
	}
	return 0, nil
}

// ExpiresWithin reports whether raw expires within d of now. Undecodable
// tokens count as expiring.
func ExpiresWithin(raw string, d time.Duration, now time.Time) bool {
	left, err := Remaining(raw, now)
	if err != nil {
		return true
	}
	return left <= d
}
