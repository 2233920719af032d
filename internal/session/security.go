package session

import (
	"context"
	"fmt"
	"time"

	"gatehouse.org/internal/obs"
)

// SecurityConfig tunes rate limiting and suspicious-activity scoring.
type SecurityConfig struct {
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
	RapidCreationCount  int             `yaml:"rapid_creation_count"`
	RapidCreationWindow time.Duration   `yaml:"rapid_creation_window"`
	MaxConcurrent       int             `yaml:"max_concurrent"`
	MaxSessionAge       time.Duration   `yaml:"max_session_age"`
	RiskThreshold       int             `yaml:"risk_threshold"`
}

// DefaultSecurityConfig returns the standard scoring thresholds.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		RateLimit:           DefaultRateLimitConfig(),
		RapidCreationCount:  3,
		RapidCreationWindow: 5 * time.Minute,
		MaxConcurrent:       3,
		MaxSessionAge:       7 * 24 * time.Hour,
		RiskThreshold:       70,
	}
}

func (c SecurityConfig) withDefaults() SecurityConfig {
	def := DefaultSecurityConfig()
	if c.RapidCreationCount <= 0 {
		c.RapidCreationCount = def.RapidCreationCount
	}
	if c.RapidCreationWindow <= 0 {
		c.RapidCreationWindow = def.RapidCreationWindow
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = def.MaxConcurrent
	}
	if c.MaxSessionAge <= 0 {
		c.MaxSessionAge = def.MaxSessionAge
	}
	if c.RiskThreshold <= 0 {
		c.RiskThreshold = def.RiskThreshold
	}
	return c
}

// Risk score contributions.
const (
	ScoreRapidCreation    = 30
	ScoreExcessiveSession = 40
	ScoreAbnormalDuration = 20
	ScoreIPChange         = 10
)

// Assessment is the suspicious-activity score of a session.
type Assessment struct {
	Score      int      `json:"score"`
	Reasons    []string `json:"reasons,omitempty"`
	Terminated bool     `json:"terminated"`
}

// Security layers rate limiting, risk scoring and event logging over a Manager.
type Security struct {
	manager *Manager
	limiter *RateLimiter
	events  *EventLog
	cfg     SecurityConfig
}

// NewSecurity wires the security layer. A nil events log gets a default one.
func NewSecurity(m *Manager, events *EventLog, cfg SecurityConfig) *Security {
	cfg = cfg.withDefaults()
	if events == nil {
		events = NewEventLog(DefaultEventCapacity)
	}
	return &Security{
		manager: m,
		limiter: NewRateLimiter(cfg.RateLimit, m.now),
		events:  events,
		cfg:     cfg,
	}
}

// Events exposes the security event log.
func (s *Security) Events() *EventLog { return s.events }

// Manager returns the underlying session manager.
func (s *Security) Manager() *Manager { return s.manager }

// Record appends a security event stamped with the manager clock.
func (s *Security) Record(e Event) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.manager.Now()
	}
	return s.events.Record(e)
}

// CheckRequest applies the rate limiter to both the user and the IP. A
// request is counted against either key only when both have budget left.
func (s *Security) CheckRequest(userID, ip string) RateDecision {
	keys := make([]string, 0, 2)
	if userID != "" {
		keys = append(keys, "user:"+userID)
	}
	if ip != "" {
		keys = append(keys, "ip:"+ip)
	}
	if len(keys) == 0 {
		return RateDecision{Allowed: true, Remaining: s.limiter.cfg.MaxRequests}
	}
	d, key := s.limiter.AllowAll(keys...)
	if !d.Allowed {
		s.Record(Event{
			Type:      EventRateLimited,
			UserID:    userID,
			IPAddress: ip,
			Severity:  SeverityMedium,
			Details:   map[string]any{"key": key, "retry_after": d.RetryAfter.String()},
		})
	}
	return d
}

// Assess scores sess. currentIP may be empty when unknown.
func (s *Security) Assess(ctx context.Context, sess Session, currentIP string) (Assessment, error) {
	now := s.manager.Now()
	all, err := s.manager.store.ListByUser(ctx, sess.UserID)
	if err != nil {
		return Assessment{}, fmt.Errorf("session: assess: %w", err)
	}
	var recent, active int
	cutoff := now.Add(-s.cfg.RapidCreationWindow)
	for _, other := range all {
		if !other.CreatedAt.Before(cutoff) {
			recent++
		}
		if other.Active(now) {
			active++
		}
	}

	var a Assessment
	if recent >= s.cfg.RapidCreationCount {
		a.Score += ScoreRapidCreation
		a.Reasons = append(a.Reasons, fmt.Sprintf("%d sessions created within %s", recent, s.cfg.RapidCreationWindow))
	}
	if active > s.cfg.MaxConcurrent {
		a.Score += ScoreExcessiveSession
		a.Reasons = append(a.Reasons, fmt.Sprintf("%d concurrent sessions", active))
	}
	if age := now.Sub(sess.CreatedAt); age > s.cfg.MaxSessionAge {
		a.Score += ScoreAbnormalDuration
		a.Reasons = append(a.Reasons, fmt.Sprintf("session age %s exceeds %s", age.Round(time.Minute), s.cfg.MaxSessionAge))
	}
	if currentIP != "" && sess.IPAddress != "" && currentIP != sess.IPAddress {
		a.Score += ScoreIPChange
		a.Reasons = append(a.Reasons, "ip changed from "+sess.IPAddress+" to "+currentIP)
	}
	return a, nil
}

// Enforce assesses sess and deactivates it when the score reaches the
// risk threshold.
func (s *Security) Enforce(ctx context.Context, sess Session, currentIP string) (Assessment, error) {
	a, err := s.Assess(ctx, sess, currentIP)
	if err != nil || a.Score == 0 {
		return a, err
	}
	details := map[string]any{"score": a.Score, "reasons": a.Reasons}
	if a.Score < s.cfg.RiskThreshold {
		s.Record(Event{
			Type: EventSuspicious, UserID: sess.UserID, SessionID: sess.ID,
			IPAddress: currentIP, Severity: severityFor(a.Score), Details: details,
		})
		return a, nil
	}
	if err := s.manager.Deactivate(ctx, sess.ID); err != nil {
		return a, err
	}
	a.Terminated = true
	s.Record(Event{
		Type: EventSessionTerminated, UserID: sess.UserID, SessionID: sess.ID,
		IPAddress: currentIP, Severity: SeverityCritical, Details: details,
	})
	obs.Logger().WithFields(map[string]any{
		"user_id":    sess.UserID,
		"session_id": sess.ID,
		"score":      a.Score,
	}).Warn("session terminated for suspicious activity")
	return a, nil
}

func severityFor(score int) Severity {
	switch {
	case score >= 40:
		return SeverityHigh
	case score >= 20:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
