package handshake

import (
	"context"
	"sync"
	"time"
)

// MemoryStateStore is an in-process StateStore for single-instance
// deployments and tests.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	state     *State
	expiresAt time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStateStore) Save(ctx context.Context, key string, st *State, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{state: st, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStateStore) Consume(ctx context.Context, key string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if !exists {
		return nil, nil
	}
	delete(s.entries, key)
	if time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	return entry.state, nil
}

func (s *MemoryStateStore) Get(ctx context.Context, key string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	return entry.state, nil
}

func (s *MemoryStateStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
