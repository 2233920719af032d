package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNotStored is returned when no pair is stored for a session.
var ErrNotStored = errors.New("token: no stored pair")

// StoredPair is the persisted form of a session's current pair.
type StoredPair struct {
	Pair
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func (sp StoredPair) validate() error {
	if sp.UserID == "" {
		return errors.New("token: user id is required")
	}
	if sp.SessionID == "" {
		return errors.New("token: session id is required")
	}
	return nil
}

// Storage keeps the current pair of each session. A user holds one pair per
// active session.
type Storage interface {
	Save(ctx context.Context, sp StoredPair) error
	Load(ctx context.Context, userID, sessionID string) (StoredPair, error)
	Clear(ctx context.Context, userID, sessionID string) error
	ClearAll(ctx context.Context, userID string) error
}

// RedisStorage keeps pairs in Redis as JSON under prefix:user:session,
// expiring with the refresh token.
type RedisStorage struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisStorage returns a RedisStorage. An empty prefix uses "tokens".
func NewRedisStorage(client redis.Cmdable, prefix string) *RedisStorage {
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "tokens"
	}
	return &RedisStorage{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStorage) key(userID, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, userID, sessionID)
}

func (s *RedisStorage) Save(ctx context.Context, sp StoredPair) error {
	if err := sp.validate(); err != nil {
		return err
	}
	ttl := sp.RefreshExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("%w: refresh token already expired", ErrExpiredToken)
	}
	body, err := json.Marshal(sp)
	if err != nil {
		return fmt.Errorf("token: encode pair: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sp.UserID, sp.SessionID), body, ttl).Err(); err != nil {
		return fmt.Errorf("token: redis set: %w", err)
	}
	return nil
}

func (s *RedisStorage) Load(ctx context.Context, userID, sessionID string) (StoredPair, error) {
	body, err := s.client.Get(ctx, s.key(userID, sessionID)).Bytes()
	if err == redis.Nil {
		return StoredPair{}, ErrNotStored
	}
	if err != nil {
		return StoredPair{}, fmt.Errorf("token: redis get: %w", err)
	}
	var sp StoredPair
	if err := json.Unmarshal(body, &sp); err != nil {
		return StoredPair{}, fmt.Errorf("token: decode pair: %w", err)
	}
	return sp, nil
}

func (s *RedisStorage) Clear(ctx context.Context, userID, sessionID string) error {
	if err := s.client.Del(ctx, s.key(userID, sessionID)).Err(); err != nil {
		return fmt.Errorf("token: redis del: %w", err)
	}
	return nil
}

// ClearAll removes every session pair of userID.
func (s *RedisStorage) ClearAll(ctx context.Context, userID string) error {
	match := s.key(userID, "*")
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return fmt.Errorf("token: redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("token: redis del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

type sessionKey struct {
	userID    string
	sessionID string
}

// MemoryStorage is a process-local Storage that drops pairs once their
// refresh token has expired.
type MemoryStorage struct {
	mu    sync.RWMutex
	pairs map[sessionKey]StoredPair
	now   func() time.Time
}

// NewMemoryStorage returns an empty MemoryStorage. A nil now uses time.Now.
func NewMemoryStorage(now func() time.Time) *MemoryStorage {
	if now == nil {
		now = time.Now
	}
	return &MemoryStorage{pairs: make(map[sessionKey]StoredPair), now: now}
}

func (s *MemoryStorage) Save(_ context.Context, sp StoredPair) error {
	if err := sp.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[sessionKey{sp.UserID, sp.SessionID}] = sp
	return nil
}

func (s *MemoryStorage) Load(_ context.Context, userID, sessionID string) (StoredPair, error) {
	k := sessionKey{userID, sessionID}
	s.mu.RLock()
	sp, ok := s.pairs[k]
	s.mu.RUnlock()
	if !ok {
		return StoredPair{}, ErrNotStored
	}
	if !sp.RefreshExpiresAt.After(s.now()) {
		s.mu.Lock()
		delete(s.pairs, k)
		s.mu.Unlock()
		return StoredPair{}, ErrNotStored
	}
	return sp, nil
}

func (s *MemoryStorage) Clear(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pairs, sessionKey{userID, sessionID})
	return nil
}

func (s *MemoryStorage) ClearAll(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.pairs {
		if k.userID == userID {
			delete(s.pairs, k)
		}
	}
	return nil
}
