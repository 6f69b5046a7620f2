package cache

import (
	"context"
	"sync"
	"time"

	"tenant-auth-policy/internal/platform/clock"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero when the entry never expires
}

// MemoryStore is an in-process Cache. Used in tests and single-node development setups.
type MemoryStore struct {
	mu    sync.RWMutex
	m     map[string]entry
	clock clock.Clock
}

// NewMemoryStore returns an empty MemoryStore. c may be nil (system clock).
func NewMemoryStore(c clock.Clock) *MemoryStore {
	return &MemoryStore{
		m:     make(map[string]entry),
		clock: clock.OrSystem(c),
	}
}

// Get returns the value for key if present and not expired. Expired entries are dropped on read.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !e.expiresAt.After(s.clock.Now()) {
		s.mu.Lock()
		delete(s.m, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set stores a copy of value under key for ttl.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = e
	return nil
}

// Delete removes keys.
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.m, k)
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet read.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
