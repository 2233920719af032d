package auth

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

var _ UserStore = (*CachedUserStore)(nil)

// CachedUserStore fronts a UserStore with an expiring LRU keyed by user id.
// Writes go through to the backing store and drop the cached record.
type CachedUserStore struct {
	next  UserStore
	cache *expirable.LRU[string, *User]
}

// NewCachedUserStore wraps next with a cache of size entries living for ttl.
func NewCachedUserStore(next UserStore, size int, ttl time.Duration) *CachedUserStore {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedUserStore{
		next:  next,
		cache: expirable.NewLRU[string, *User](size, nil, ttl),
	}
}

func (s *CachedUserStore) FindByID(ctx context.Context, id string) (*User, error) {
	if u, ok := s.cache.Get(id); ok {
		return cloneUser(u), nil
	}
	u, err := s.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, cloneUser(u))
	return u, nil
}

// FindByEmail always reads through; login needs the current password hash.
func (s *CachedUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.next.FindByEmail(ctx, email)
}

func (s *CachedUserStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	s.cache.Remove(id)
	return s.next.UpdateLastLogin(ctx, id, at)
}

func (s *CachedUserStore) SetRole(ctx context.Context, id string, role *Role) error {
	s.cache.Remove(id)
	return s.next.SetRole(ctx, id, role)
}

// Invalidate drops a cached record.
func (s *CachedUserStore) Invalidate(id string) {
	s.cache.Remove(id)
}
