package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"gatehouse.org/internal/ids"
)

// UserStore is the user-record lookup the auth subsystem consumes.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	SetRole(ctx context.Context, id string, role *Role) error
}

var _ UserStore = (*MemoryUserStore)(nil)

// MemoryUserStore keeps users in process memory. Records are copied in and out.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

// NewMemoryUserStore seeds the store with users.
func NewMemoryUserStore(users ...*User) *MemoryUserStore {
	s := &MemoryUserStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
	for _, u := range users {
		_ = s.Put(u)
	}
	return s
}

// Put inserts or replaces a user. An empty ID is filled in.
func (s *MemoryUserStore) Put(u *User) error {
	if u == nil {
		return Invalid("user", "is required")
	}
	email := normalizeEmail(u.Email)
	if email == "" {
		return Invalid("email", "is required")
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	cp := cloneUser(u)
	cp.Email = email
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byID[cp.ID]; ok {
		delete(s.byEmail, old.Email)
	}
	s.byID[cp.ID] = cp
	s.byEmail[email] = cp.ID
	return nil
}

func (s *MemoryUserStore) FindByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(s.byID[id]), nil
}

func (s *MemoryUserStore) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	u.LastLoginAt = &at
	u.UpdatedAt = at
	return nil
}

func (s *MemoryUserStore) SetRole(_ context.Context, id string, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.Role = cloneRole(role)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func cloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	cp := *u
	if u.Level != nil {
		v := *u.Level
		cp.Level = &v
	}
	if u.Department != nil {
		v := *u.Department
		cp.Department = &v
	}
	if u.Region != nil {
		v := *u.Region
		cp.Region = &v
	}
	if u.LastLoginAt != nil {
		v := *u.LastLoginAt
		cp.LastLoginAt = &v
	}
	cp.Role = cloneRole(u.Role)
	return &cp
}

func cloneRole(r *Role) *Role {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Permissions = append([]Permission(nil), r.Permissions...)
	return &cp
}
