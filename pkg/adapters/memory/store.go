// Package memory provides a process-local checkpoint store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/relay/pkg/domain"
)

// Store implements ports.CheckpointStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.SessionState
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.SessionState),
	}
}

// Save persists a deep copy of the state.
func (s *Store) Save(ctx context.Context, key string, state *domain.SessionState) error {
	copied := state.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := 0
	if prev, ok := s.data[key]; ok {
		stored = len(prev.Messages)
	}
	if err := copied.CheckBase(stored); err != nil {
		return err
	}
	s.data[key] = copied
	return nil
}

// Load returns a copy so callers can't mutate store state through the pointer.
func (s *Store) Load(ctx context.Context, key string) (*domain.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[key]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	out := state.Snapshot()
	out.Base = len(out.Messages)
	return out, nil
}

// Delete removes the state.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// List returns stored session keys, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
