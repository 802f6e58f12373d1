package state

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/randalmurphal/orchestra/pkg/orchestra/bus"
	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
)

// Projection keys merged into every session state.
const (
	KeyLastEvent     = "lastEvent"
	KeyLastEventTime = "lastEventTime"
	KeyLastIntent    = "lastIntent"
	KeyLastTool      = "lastTool"
	KeyLastQuery     = "lastQuery"
	KeyChannel       = "channel"
)

// Subscriber is the part of the bus the service needs.
type Subscriber interface {
	SubscribePattern(ctx context.Context, pattern string, h bus.Handler) (*bus.Subscription, error)
	Unsubscribe(ctx context.Context, sub *bus.Subscription) error
}

// Config configures the service.
type Config struct {
	// Store holds the states.
	// Default: NewMemoryStore()
	Store Store

	Logger *slog.Logger
}

// Service derives session state from bus events.
type Service struct {
	store  Store
	logger *slog.Logger

	// mu serializes read-modify-write cycles against the store.
	mu      sync.Mutex
	history map[string][]event.Event

	sub *bus.Subscription
}

// NewService creates a state service.
func NewService(cfg Config) *Service {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:   cfg.Store,
		logger:  cfg.Logger.With(slog.String("component", "state")),
		history: make(map[string][]event.Event),
	}
}

// Start subscribes the service to every event.
func (s *Service) Start(ctx context.Context, b Subscriber) error {
	sub, err := b.SubscribePattern(ctx, event.AllPattern, bus.HandlerFunc(s.Handle))
	if err != nil {
		return fmt.Errorf("state: subscribe: %w", err)
	}
	s.sub = sub
	return nil
}

// Stop removes the bus subscription.
func (s *Service) Stop(ctx context.Context, b Subscriber) error {
	if s.sub == nil {
		return nil
	}
	err := b.Unsubscribe(ctx, s.sub)
	s.sub = nil
	return err
}

// Handle applies one event. It implements bus.Handler.
func (s *Service) Handle(ctx context.Context, evt event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok, err := s.store.Get(ctx, evt.SessionID)
	if err != nil {
		return fmt.Errorf("state: load %s: %w", evt.SessionID, err)
	}
	now := time.Now()
	if !ok {
		st = SessionState{
			SessionID: evt.SessionID,
			TenantID:  evt.TenantID,
			UserID:    evt.UserID,
			State:     make(map[string]any),
			CreatedAt: now,
		}
		s.logger.Debug("state created", slog.String("session_id", evt.SessionID))
	}

	s.history[evt.SessionID] = append(s.history[evt.SessionID], evt)

	maps.Copy(st.State, project(evt))
	st.UpdatedAt = now
	return s.store.Put(ctx, st)
}

// project returns the state updates an event implies.
func project(evt event.Event) map[string]any {
	updates := map[string]any{
		KeyLastEvent:     evt.Type,
		KeyLastEventTime: evt.Timestamp,
	}
	switch p := evt.Payload.(type) {
	case event.IntentPayload:
		if p.Intent != "" {
			updates[KeyLastIntent] = p.Intent
		}
	case event.ToolPayload:
		updates[KeyLastTool] = p.ToolName
	case event.KnowledgePayload:
		updates[KeyLastQuery] = p.Query
	case event.ChannelPayload:
		updates[KeyChannel] = p.Channel
	}
	return updates
}

// CreateState creates an empty state, replacing any existing one, and
// clears the session's history.
func (s *Service) CreateState(ctx context.Context, sessionID, tenantID, userID string) (SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	st := SessionState{
		SessionID: sessionID,
		TenantID:  tenantID,
		UserID:    userID,
		State:     make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Put(ctx, st); err != nil {
		return SessionState{}, err
	}
	s.history[sessionID] = nil
	return st, nil
}

// GetState returns the session's state.
func (s *Service) GetState(ctx context.Context, sessionID string) (SessionState, bool, error) {
	return s.store.Get(ctx, sessionID)
}

// UpdateState shallow-merges updates into the state. It returns nil when the
// session is unknown.
func (s *Service) UpdateState(ctx context.Context, sessionID string, updates map[string]any) (*SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Warn("state not found", slog.String("session_id", sessionID))
		return nil, nil
	}
	maps.Copy(st.State, updates)
	st.UpdatedAt = time.Now()
	if err := s.store.Put(ctx, st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ResetState clears the state map but keeps identity and creation time.
// Unknown sessions are ignored.
func (s *Service) ResetState(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok, err := s.store.Get(ctx, sessionID)
	if err != nil || !ok {
		return err
	}
	st.State = make(map[string]any)
	st.UpdatedAt = time.Now()
	return s.store.Put(ctx, st)
}

// DeleteState removes the state and the event history.
func (s *Service) DeleteState(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, sessionID)
	return s.store.Delete(ctx, sessionID)
}

// ListStates returns every state.
func (s *Service) ListStates(ctx context.Context) ([]SessionState, error) {
	return s.store.List(ctx)
}

// GetStatesByTenant returns the tenant's states.
func (s *Service) GetStatesByTenant(ctx context.Context, tenantID string) ([]SessionState, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(st SessionState) bool {
		return st.TenantID != tenantID
	}), nil
}

// GetEventHistory returns the events observed for the session, oldest first.
func (s *Service) GetEventHistory(sessionID string) []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history[sessionID])
}
