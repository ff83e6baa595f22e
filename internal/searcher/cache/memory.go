package cache

import (
	"context"
	"sync"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*SessionState)}
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) (*SessionState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s.clone(), ok, nil
}

func (m *MemoryStore) Save(_ context.Context, sessionID string, state *SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = state.clone()
	return nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
