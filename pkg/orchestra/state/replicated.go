package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Map is the replicated-map contract ReplicatedStore needs. It is satisfied
// by *rmap.Map from goa.design/pulse/rmap and must be safe for concurrent use.
type Map interface {
	Delete(ctx context.Context, key string) (string, error)
	Get(key string) (string, bool)
	Keys() []string
	Set(ctx context.Context, key, value string) (string, error)
}

const stateKeyPrefix = "state:session:"

// ReplicatedStore keeps states as JSON in a replicated map.
type ReplicatedStore struct {
	m Map
}

// NewReplicatedStore creates a store on m.
func NewReplicatedStore(m Map) *ReplicatedStore {
	return &ReplicatedStore{m: m}
}

var _ Store = (*ReplicatedStore)(nil)

// Get implements Store.
func (s *ReplicatedStore) Get(ctx context.Context, sessionID string) (SessionState, bool, error) {
	if err := ctx.Err(); err != nil {
		return SessionState{}, false, err
	}
	val, ok := s.m.Get(stateKey(sessionID))
	if !ok {
		return SessionState{}, false, nil
	}
	var st SessionState
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		return SessionState{}, false, fmt.Errorf("unmarshal state %q: %w", sessionID, err)
	}
	return st.Clone(), true, nil
}

// Put implements Store.
func (s *ReplicatedStore) Put(ctx context.Context, st SessionState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state %q: %w", st.SessionID, err)
	}
	if _, err := s.m.Set(ctx, stateKey(st.SessionID), string(b)); err != nil {
		return fmt.Errorf("store state %q: %w", st.SessionID, err)
	}
	return nil
}

// Delete implements Store.
func (s *ReplicatedStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := stateKey(sessionID)
	if _, ok := s.m.Get(key); !ok {
		return nil
	}
	if _, err := s.m.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete state %q: %w", sessionID, err)
	}
	return nil
}

// List implements Store.
func (s *ReplicatedStore) List(ctx context.Context) ([]SessionState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]SessionState, 0)
	for _, k := range s.m.Keys() {
		if !strings.HasPrefix(k, stateKeyPrefix) {
			continue
		}
		st, ok, err := s.Get(ctx, strings.TrimPrefix(k, stateKeyPrefix))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, st)
		}
	}
	sortStates(out)
	return out, nil
}

func stateKey(sessionID string) string {
	return stateKeyPrefix + sessionID
}
