package state

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// SessionState is the derived view of one session.
type SessionState struct {
	SessionID string         `json:"sessionId"`
	TenantID  string         `json:"tenantId"`
	UserID    string         `json:"userId,omitempty"`
	State     map[string]any `json:"state"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Clone returns a copy whose state map is not shared with s.
func (s SessionState) Clone() SessionState {
	s.State = maps.Clone(s.State)
	if s.State == nil {
		s.State = make(map[string]any)
	}
	return s
}

// Store persists session states.
type Store interface {
	Get(ctx context.Context, sessionID string) (SessionState, bool, error)
	Put(ctx context.Context, st SessionState) error
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]SessionState, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]SessionState
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]SessionState)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, sessionID string) (SessionState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[sessionID]
	if !ok {
		return SessionState{}, false, nil
	}
	return st.Clone(), true, nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, st SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.SessionID] = st.Clone()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
	return nil
}

// List implements Store. States are ordered by creation time.
func (m *MemoryStore) List(_ context.Context) ([]SessionState, error) {
	m.mu.RLock()
	out := make([]SessionState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st.Clone())
	}
	m.mu.RUnlock()
	sortStates(out)
	return out, nil
}

func sortStates(states []SessionState) {
	slices.SortFunc(states, func(a, b SessionState) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})
}
