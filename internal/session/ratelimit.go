package session

import (
	"sync"
	"time"
)

// RateLimitConfig bounds requests per key within a sliding window.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// DefaultRateLimitConfig allows 100 requests per 15 minutes.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{MaxRequests: 100, Window: 15 * time.Minute}
}

// RateDecision is the outcome of RateLimiter.Allow.
type RateDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter is a per-key sliding-window limiter. Keys whose window has
// emptied are dropped, on touch and by a sweep once per window.
type RateLimiter struct {
	cfg       RateLimitConfig
	now       func() time.Time
	mu        sync.Mutex
	hits      map[string][]time.Time
	lastSweep time.Time
}

// NewRateLimiter returns a limiter; zero config fields take defaults.
func NewRateLimiter(cfg RateLimitConfig, now func() time.Time) *RateLimiter {
	def := DefaultRateLimitConfig()
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{cfg: cfg, now: now, hits: make(map[string][]time.Time), lastSweep: now()}
}

// Allow records a request for key when it fits in the window.
func (l *RateLimiter) Allow(key string) RateDecision {
	d, _ := l.AllowAll(key)
	return d
}

// AllowAll records a request against every key only when all of them fit in
// the window. On denial nothing is recorded and the first key over its limit
// is returned.
func (l *RateLimiter) AllowAll(keys ...string) (RateDecision, string) {
	now := l.now()
	cutoff := now.Add(-l.cfg.Window)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now, cutoff)

	pruned := make([][]time.Time, len(keys))
	for i, key := range keys {
		hits := prune(l.hits[key], cutoff)
		pruned[i] = hits
		if len(hits) == 0 {
			delete(l.hits, key)
		} else {
			l.hits[key] = hits
		}
		if len(hits) >= l.cfg.MaxRequests {
			return RateDecision{RetryAfter: hits[0].Add(l.cfg.Window).Sub(now)}, key
		}
	}

	d := RateDecision{Allowed: true, Remaining: l.cfg.MaxRequests}
	for i, key := range keys {
		hits := append(pruned[i], now)
		l.hits[key] = hits
		if left := l.cfg.MaxRequests - len(hits); left < d.Remaining {
			d.Remaining = left
		}
	}
	return d, ""
}

func (l *RateLimiter) sweep(now, cutoff time.Time) {
	if now.Sub(l.lastSweep) < l.cfg.Window {
		return
	}
	for key, hits := range l.hits {
		if hits = prune(hits, cutoff); len(hits) == 0 {
			delete(l.hits, key)
		} else {
			l.hits[key] = hits
		}
	}
	l.lastSweep = now
}

// Keys returns the number of keys currently tracked.
func (l *RateLimiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// Reset forgets key.
func (l *RateLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hits, key)
}

// LoginLimiterConfig bounds failed login attempts.
type LoginLimiterConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`
}

// DefaultLoginLimiterConfig locks a key after 5 failures within 15 minutes.
func DefaultLoginLimiterConfig() LoginLimiterConfig {
	return LoginLimiterConfig{MaxAttempts: 5, Window: 15 * time.Minute}
}

// LoginLimiter counts failed logins per key. Failures older than the window
// are forgotten, so a lockout lifts once the window has passed.
type LoginLimiter struct {
	cfg      LoginLimiterConfig
	now      func() time.Time
	mu       sync.Mutex
	failures map[string][]time.Time
}

// NewLoginLimiter returns a limiter; zero config fields take defaults.
func NewLoginLimiter(cfg LoginLimiterConfig, now func() time.Time) *LoginLimiter {
	def := DefaultLoginLimiterConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if now == nil {
		now = time.Now
	}
	return &LoginLimiter{cfg: cfg, now: now, failures: make(map[string][]time.Time)}
}

// Check reports whether key is locked and for how long.
func (l *LoginLimiter) Check(key string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	failures := prune(l.failures[key], now.Add(-l.cfg.Window))
	if len(failures) == 0 {
		delete(l.failures, key)
		return false, 0
	}
	l.failures[key] = failures
	if len(failures) < l.cfg.MaxAttempts {
		return false, 0
	}
	return true, failures[0].Add(l.cfg.Window).Sub(now)
}

// RecordFailure counts a failed attempt for key and returns the attempts
// left before lockout.
func (l *LoginLimiter) RecordFailure(key string) int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	failures := append(prune(l.failures[key], now.Add(-l.cfg.Window)), now)
	l.failures[key] = failures
	if left := l.cfg.MaxAttempts - len(failures); left > 0 {
		return left
	}
	return 0
}

// Reset clears the failures for key.
func (l *LoginLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, key)
}

// prune drops timestamps at or before cutoff; times are kept in order.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append([]time.Time(nil), times[i:]...)
}
