package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"samvad-chat/internal/models"
)

var errStoreClosed = errors.New("identity store closed")

type memoryEntry struct {
	identity  models.Identity
	expiresAt time.Time
}

// MemoryStore is an in-process Store with per-entry expiry. Expired entries
// are dropped lazily on read and in bulk by Sweep.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	closed  bool
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*models.Identity, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return nil, false, errStoreClosed
	}
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}

	identity := entry.identity
	return &identity, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, identity *models.Identity, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStoreClosed
	}

	entry := memoryEntry{identity: *identity}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = make(map[string]memoryEntry)
	return nil
}
