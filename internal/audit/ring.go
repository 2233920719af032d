package audit

import (
	"sync"
	"time"

	"gatehouse.org/internal/ids"
)

// DefaultCapacity bounds the in-memory access log.
const DefaultCapacity = 1000

// Entry records one access-control decision.
type Entry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Check        string    `json:"check"`
	Granted      bool      `json:"granted"`
	Role         string    `json:"role,omitempty"`
	Context      string    `json:"context,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	ResourceID   string    `json:"resource_id,omitempty"`
	ResourceType string    `json:"resource_type,omitempty"`
}

// Stats summarises the retained entries.
type Stats struct {
	Total          int            `json:"total"`
	Granted        int            `json:"granted"`
	Denied         int            `json:"denied"`
	UniqueUsers    int            `json:"unique_users"`
	RecentActivity int            `json:"recent_activity"`
	ByContext      map[string]int `json:"by_context"`
}

// Log is an append-only ring buffer of entries; once full the oldest entry is evicted.
type Log struct {
	mu    sync.RWMutex
	buf   []Entry
	start int
	size  int
}

// NewLog returns a log retaining at most capacity entries.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{buf: make([]Entry, capacity)}
}

// Append stores e, filling ID and Timestamp when empty, and returns the stored copy.
func (l *Log) Append(e Entry) Entry {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = ids.NewAt(e.Timestamp)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	capacity := len(l.buf)
	if l.size < capacity {
		l.buf[(l.start+l.size)%capacity] = e
		l.size++
		return e
	}
	l.buf[l.start] = e
	l.start = (l.start + 1) % capacity
	return e
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Cap returns the maximum number of retained entries.
func (l *Log) Cap() int { return len(l.buf) }

// Entries returns all retained entries, oldest first.
func (l *Log) Entries() []Entry {
	return l.filter(func(Entry) bool { return true })
}

// ByUser returns entries for userID, oldest first.
func (l *Log) ByUser(userID string) []Entry {
	return l.filter(func(e Entry) bool { return e.UserID == userID })
}

// ByContext returns entries recorded under the given context label.
func (l *Log) ByContext(context string) []Entry {
	return l.filter(func(e Entry) bool { return e.Context == context })
}

// Failures returns denied entries.
func (l *Log) Failures() []Entry {
	return l.filter(func(e Entry) bool { return !e.Granted })
}

// Recent returns up to n newest entries, newest first.
func (l *Log) Recent(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]Entry, 0, n)
	for i := l.size - 1; i >= l.size-n; i-- {
		out = append(out, l.buf[(l.start+i)%len(l.buf)])
	}
	return out
}

// Stats aggregates retained entries; RecentActivity counts the hour before now.
func (l *Log) Stats(now time.Time) Stats {
	stats := Stats{ByContext: make(map[string]int)}
	users := make(map[string]struct{})
	cutoff := now.Add(-time.Hour)
	for _, e := range l.Entries() {
		stats.Total++
		if e.Granted {
			stats.Granted++
		} else {
			stats.Denied++
		}
		if e.UserID != "" {
			users[e.UserID] = struct{}{}
		}
		if e.Context != "" {
			stats.ByContext[e.Context]++
		}
		if !e.Timestamp.Before(cutoff) {
			stats.RecentActivity++
		}
	}
	stats.UniqueUsers = len(users)
	return stats
}

// Clear drops every entry.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.start, l.size = 0, 0
	for i := range l.buf {
		l.buf[i] = Entry{}
	}
}

func (l *Log) filter(keep func(Entry) bool) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for i := 0; i < l.size; i++ {
		e := l.buf[(l.start+i)%len(l.buf)]
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
