// Package cache provides a small key/value store with per-entry expiry.
package cache

import (
	"context"
	"sync"
	"time"
)

// Store holds string values that expire after a TTL.
type Store interface {
	// Get returns the value and true, or "" and false when absent or expired.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value for ttl. A non-positive ttl stores without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Clock returns the current time.
type Clock func() time.Time

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	now     Clock
	entries map[string]entry
}

// NewMemoryStore creates a MemoryStore. A nil clock uses time.Now.
func NewMemoryStore(now Clock) *MemoryStore {
	if now == nil {
		now = time.Now
	}

	return &MemoryStore{now: now, entries: map[string]entry{}}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return "", false, nil
	}

	return e.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e

	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)

	return nil
}
