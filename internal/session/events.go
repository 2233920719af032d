package session

import (
	"context"
	"sync"
	"time"

	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/stream"
)

// DefaultEventCapacity bounds the security event log.
const DefaultEventCapacity = 1000

// Security event types.
const (
	EventLoginSuccess      = "login_success"
	EventLoginFailure      = "login_failure"
	EventLoginLocked       = "login_locked"
	EventLogout            = "logout"
	EventSessionCreated    = "session_created"
	EventSessionRefreshed  = "session_refreshed"
	EventSessionTerminated = "session_terminated"
	EventSuspicious        = "suspicious_activity"
	EventRateLimited       = "rate_limited"
)

// Severity grades a security event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is one security-relevant occurrence.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	UserID    string         `json:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	Severity  Severity       `json:"severity"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventStats summarises the retained events.
type EventStats struct {
	Total       int              `json:"total"`
	ByType      map[string]int   `json:"by_type"`
	BySeverity  map[Severity]int `json:"by_severity"`
	UniqueUsers int              `json:"unique_users"`
}

// EventLog keeps the most recent security events, oldest evicted first.
type EventLog struct {
	mu       sync.RWMutex
	capacity int
	events   []Event
	live     *stream.Hub[Event]
}

// NewEventLog returns a log retaining at most capacity events.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	return &EventLog{capacity: capacity, live: stream.New[Event](0)}
}

// Record stores e, filling ID, Timestamp and Severity when empty.
func (l *EventLog) Record(e Event) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = ids.NewAt(e.Timestamp)
	}
	if e.Severity == "" {
		e.Severity = SeverityLow
	}
	l.mu.Lock()
	if len(l.events) == l.capacity {
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
	}
	l.events = append(l.events, e)
	l.mu.Unlock()
	l.live.Publish(e)
	return e
}

// Subscribe streams events recorded after the call until ctx ends.
func (l *EventLog) Subscribe(ctx context.Context) <-chan Event {
	return l.live.Subscribe(ctx)
}

// All returns every retained event, oldest first.
func (l *EventLog) All() []Event {
	return l.filter(func(Event) bool { return true })
}

// ByUser returns the events for userID.
func (l *EventLog) ByUser(userID string) []Event {
	return l.filter(func(e Event) bool { return e.UserID == userID })
}

// ByType returns the events of the given type.
func (l *EventLog) ByType(eventType string) []Event {
	return l.filter(func(e Event) bool { return e.Type == eventType })
}

// Since returns the events at or after t.
func (l *EventLog) Since(t time.Time) []Event {
	return l.filter(func(e Event) bool { return !e.Timestamp.Before(t) })
}

// Len returns the number of retained events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Stats aggregates the retained events.
func (l *EventLog) Stats() EventStats {
	stats := EventStats{ByType: make(map[string]int), BySeverity: make(map[Severity]int)}
	users := make(map[string]struct{})
	for _, e := range l.All() {
		stats.Total++
		stats.ByType[e.Type]++
		stats.BySeverity[e.Severity]++
		if e.UserID != "" {
			users[e.UserID] = struct{}{}
		}
	}
	stats.UniqueUsers = len(users)
	return stats
}

func (l *EventLog) filter(keep func(Event) bool) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Event
	for _, e := range l.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
