package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"ciro-tutor/internal/model"
)

// InMemoryStore keeps sessions in a map. Simple to run and debug, loses
// everything on restart; production deployments use the sqlite backend.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string][]byte)}
}

// Get returns the session for threadID, or ErrNotFound.
func (s *InMemoryStore) Get(_ context.Context, threadID string) (*model.SessionState, error) {
	s.mu.RLock()
	raw, ok := s.data[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	var state model.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", threadID, err)
	}
	return &state, nil
}

// Save stores or replaces the session. The state is serialized on write so
// callers cannot alias the stored copy.
func (s *InMemoryStore) Save(_ context.Context, state *model.SessionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", state.ThreadID, err)
	}

	s.mu.Lock()
	s.data[state.ThreadID] = raw
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
