package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSecurity(cfg SecurityConfig) (*Security, *Manager, *fakeClock) {
	m, _, clock := newTestManager(Config{MaxSessionsPerUser: 10})
	return NewSecurity(m, NewEventLog(100), cfg), m, clock
}

func TestCheckRequestLimitsUserAndIP(t *testing.T) {
	sec, _, _ := newTestSecurity(SecurityConfig{RateLimit: RateLimitConfig{MaxRequests: 2, Window: time.Minute}})

	assert.True(t, sec.CheckRequest("u1", "10.0.0.1").Allowed)
	d := sec.CheckRequest("u2", "10.0.0.1")
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d = sec.CheckRequest("u3", "10.0.0.1")
	assert.False(t, d.Allowed, "ip budget exhausted")
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	limited := sec.Events().ByType(EventRateLimited)
	require.Len(t, limited, 1)
	assert.Equal(t, "u3", limited[0].UserID)
	assert.Equal(t, "ip:10.0.0.1", limited[0].Details["key"])

	assert.True(t, sec.CheckRequest("u1", "").Allowed)
	assert.False(t, sec.CheckRequest("u1", "").Allowed, "user budget exhausted")
}

func TestCheckRequestDeniedByIPKeepsUserBudget(t *testing.T) {
	sec, _, _ := newTestSecurity(SecurityConfig{RateLimit: RateLimitConfig{MaxRequests: 2, Window: time.Minute}})

	require.True(t, sec.CheckRequest("u1", "10.0.0.9").Allowed)
	require.True(t, sec.CheckRequest("u2", "10.0.0.9").Allowed)
	for i := 0; i < 3; i++ {
		require.False(t, sec.CheckRequest("u3", "10.0.0.9").Allowed)
	}

	d := sec.CheckRequest("u3", "10.0.0.10")
	assert.True(t, d.Allowed, "requests denied by the ip key must not spend the user budget")
	assert.Equal(t, 1, d.Remaining)
}

func TestAssessScoring(t *testing.T) {
	sec, m, clock := newTestSecurity(SecurityConfig{})
	ctx := context.Background()

	first, err := m.Create(ctx, CreateRequest{UserID: "u1", IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	a, err := sec.Assess(ctx, first, "10.0.0.1")
	require.NoError(t, err)
	assert.Zero(t, a.Score)
	assert.Empty(t, a.Reasons)

	a, err = sec.Assess(ctx, first, "10.9.9.9")
	require.NoError(t, err)
	assert.Equal(t, ScoreIPChange, a.Score)

	for i := 0; i < 2; i++ {
		_, err := m.Create(ctx, CreateRequest{UserID: "u1"})
		require.NoError(t, err)
	}
	a, err = sec.Assess(ctx, first, "")
	require.NoError(t, err)
	assert.Equal(t, ScoreRapidCreation, a.Score)

	_, err = m.Create(ctx, CreateRequest{UserID: "u1"})
	require.NoError(t, err)
	a, err = sec.Assess(ctx, first, "")
	require.NoError(t, err)
	assert.Equal(t, ScoreRapidCreation+ScoreExcessiveSession, a.Score)
	assert.Len(t, a.Reasons, 2)

	clock.Advance(8 * 24 * time.Hour)
	old := first
	old.ExpiresAt = clock.Now().Add(time.Hour)
	a, err = sec.Assess(ctx, old, "")
	require.NoError(t, err)
	assert.Equal(t, ScoreAbnormalDuration, a.Score, "earlier sessions have expired and aged out of the rapid window")
}

func TestEnforceTerminatesAboveThreshold(t *testing.T) {
	sec, m, _ := newTestSecurity(SecurityConfig{})
	ctx := context.Background()

	var last Session
	for i := 0; i < 4; i++ {
		s, err := m.Create(ctx, CreateRequest{UserID: "u1", IPAddress: "10.0.0.1"})
		require.NoError(t, err)
		last = s
	}

	a, err := sec.Enforce(ctx, last, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 70, a.Score)
	assert.True(t, a.Terminated)

	_, err = m.Validate(ctx, last.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionExpired)

	terminated := sec.Events().ByType(EventSessionTerminated)
	require.Len(t, terminated, 1)
	assert.Equal(t, SeverityCritical, terminated[0].Severity)
	assert.Equal(t, last.ID, terminated[0].SessionID)
}

func TestEnforceRecordsSuspiciousBelowThreshold(t *testing.T) {
	sec, m, _ := newTestSecurity(SecurityConfig{})
	ctx := context.Background()
	s, err := m.Create(ctx, CreateRequest{UserID: "u1", IPAddress: "10.0.0.1"})
	require.NoError(t, err)

	a, err := sec.Enforce(ctx, s, "192.168.1.1")
	require.NoError(t, err)
	assert.False(t, a.Terminated)
	assert.Equal(t, ScoreIPChange, a.Score)

	events := sec.Events().ByType(EventSuspicious)
	require.Len(t, events, 1)
	assert.Equal(t, SeverityLow, events[0].Severity)

	_, err = m.Validate(ctx, s.RefreshToken)
	assert.NoError(t, err)

	a, err = sec.Enforce(ctx, s, "10.0.0.1")
	require.NoError(t, err)
	assert.Zero(t, a.Score)
	assert.Len(t, sec.Events().All(), 1, "clean assessments are not logged")
}
