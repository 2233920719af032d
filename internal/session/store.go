package session

import (
	"context"
	"sync"
	"time"
)

// Store persists sessions. Lookups of missing sessions return ErrSessionNotFound.
type Store interface {
	Create(ctx context.Context, s Session) error
	FindByID(ctx context.Context, id string) (Session, error)
	FindByToken(ctx context.Context, token string) (Session, error)
	ListByUser(ctx context.Context, userID string) ([]Session, error)
	Update(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]Session
	byToken map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]Session),
		byToken: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[s.ID] = s
	if s.RefreshToken != "" {
		m.byToken[s.RefreshToken] = s.ID
	}
	return nil
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemoryStore) FindByToken(_ context.Context, token string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byToken[token]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return m.byID[id], nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Session
	for _, s := range m.byID {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.byID[s.ID]
	if !ok {
		return ErrSessionNotFound
	}
	if prev.RefreshToken != s.RefreshToken {
		delete(m.byToken, prev.RefreshToken)
		if s.RefreshToken != "" {
			m.byToken[s.RefreshToken] = s.ID
		}
	}
	m.byID[s.ID] = s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return ErrSessionNotFound
	}
	delete(m.byID, id)
	delete(m.byToken, s.RefreshToken)
	return nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.byID {
		if s.ExpiresAt.After(before) {
			continue
		}
		delete(m.byID, id)
		delete(m.byToken, s.RefreshToken)
		n++
	}
	return n, nil
}
