// Package session keeps the backend tokens of console sessions. Sessions that
// asked to be remembered live in the persistent tier; all others live in the
// ephemeral tier and disappear with the process.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoSession is returned when a session id has no stored tokens.
var ErrNoSession = errors.New("session: not found")

// Tokens is the credential pair issued by the backend at login.
type Tokens struct {
	Access    string    `json:"access"`
	Refresh   string    `json:"refresh"`
	Role      string    `json:"role,omitempty"`
	LoginPage string    `json:"login_page,omitempty"`
	Remember  bool      `json:"remember"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists Tokens by console session id.
type Store interface {
	Get(ctx context.Context, sid string) (Tokens, bool, error)
	Put(ctx context.Context, sid string, t Tokens, ttl time.Duration) error
	UpdateAccess(ctx context.Context, sid, access string) error
	Delete(ctx context.Context, sid string) error
}

// --- MemoryStore ---

// MemoryStore is an in-process Store with TTL support.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	now     func() time.Time
}

type memEntry struct {
	tokens    Tokens
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

// Get returns the tokens of sid, dropping them if expired.
func (s *MemoryStore) Get(_ context.Context, sid string) (Tokens, bool, error) {
	s.mu.RLock()
	entry, exists := s.entries[sid]
	s.mu.RUnlock()

	if !exists {
		return Tokens{}, false, nil
	}
	if s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, sid)
		s.mu.Unlock()
		return Tokens{}, false, nil
	}
	return entry.tokens, true, nil
}

// Put stores tokens for sid with ttl.
func (s *MemoryStore) Put(_ context.Context, sid string, t Tokens, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sid] = &memEntry{tokens: t, expiresAt: s.now().Add(ttl)}
	return nil
}

// UpdateAccess replaces the access token of sid, keeping its expiry.
func (s *MemoryStore) UpdateAccess(_ context.Context, sid, access string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[sid]
	if !ok || s.now().After(entry.expiresAt) {
		return ErrNoSession
	}
	entry.tokens.Access = access
	return nil
}

// Delete removes sid. Deleting an unknown session is not an error.
func (s *MemoryStore) Delete(_ context.Context, sid string) error {
	s.mu.Lock()
	delete(s.entries, sid)
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries, including expired ones.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisStore ---

// RedisStore is a Redis-backed Store. Keys are prefix + session id.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore creates a Redis-backed store using the given key prefix.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "kwa:session:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(sid string) string {
	return s.prefix + sid
}

// Get loads the tokens of sid.
func (s *RedisStore) Get(ctx context.Context, sid string) (Tokens, bool, error) {
	raw, err := s.client.Get(ctx, s.key(sid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Tokens{}, false, nil
	}
	if err != nil {
		return Tokens{}, false, fmt.Errorf("redis get %q: %w", s.key(sid), err)
	}

	var t Tokens
	if err := json.Unmarshal(raw, &t); err != nil {
		return Tokens{}, false, fmt.Errorf("unmarshal session %q: %w", sid, err)
	}
	return t, true, nil
}

// Put stores the tokens of sid with ttl.
func (s *RedisStore) Put(ctx context.Context, sid string, t Tokens, ttl time.Duration) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sid), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", s.key(sid), err)
	}
	return nil
}

// UpdateAccess replaces the access token of sid, keeping the key's TTL.
func (s *RedisStore) UpdateAccess(ctx context.Context, sid, access string) error {
	t, ok, err := s.Get(ctx, sid)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoSession
	}
	t.Access = access
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sid), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", s.key(sid), err)
	}
	return nil
}

// Delete removes sid.
func (s *RedisStore) Delete(ctx context.Context, sid string) error {
	if err := s.client.Del(ctx, s.key(sid)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", s.key(sid), err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
