package audit

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
	"github.com/randalmurphal/orchestra/pkg/orchestra/observability"
)

// Bus is the part of the event bus the service needs.
type Bus interface {
	Emit(ctx context.Context, evt event.Event) error
	SubscribePattern(ctx context.Context, pattern string, h bus.Handler) (*bus.Subscription, error)
	Unsubscribe(ctx context.Context, sub *bus.Subscription) error
}

// Config configures the service.
type Config struct {
	// Log is the durable history. Nil keeps history in memory only.
	Log Log

	// MaxTraceEvents bounds each in-memory trace.
	// Default: 1000
	MaxTraceEvents int

	// Profiles resolves tenant profiles for exports.
	// Default: StaticProfiles{} (every tenant gets DefaultProfile)
	Profiles ProfileProvider

	Logger  *slog.Logger
	Metrics observability.MetricsRecorder
	Spans   observability.SpanManager
}

// Service captures, queries, replays and exports session history.
type Service struct {
	bus       Bus
	log       Log
	maxEvents int
	profiles  ProfileProvider
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager

	mu      sync.RWMutex
	traces  map[string]*EventTrace
	replays map[string]ReplaySession

	subs []*bus.Subscription
}

// NewService creates an audit service that replays onto b.
func NewService(b Bus, cfg Config) *Service {
	if cfg.MaxTraceEvents <= 0 {
		cfg.MaxTraceEvents = DefaultMaxTraceEvents
	}
	if cfg.Profiles == nil {
		cfg.Profiles = StaticProfiles{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	if cfg.Spans == nil {
		cfg.Spans = observability.NoopSpanManager{}
	}
	return &Service{
		bus:       b,
		log:       cfg.Log,
		maxEvents: cfg.MaxTraceEvents,
		profiles:  cfg.Profiles,
		logger:    cfg.Logger.With(slog.String("component", "audit")),
		metrics:   cfg.Metrics,
		spans:     cfg.Spans,
		traces:    make(map[string]*EventTrace),
		replays:   make(map[string]ReplaySession),
	}
}

// Start subscribes to every domain.
func (s *Service) Start(ctx context.Context) error {
	for _, d := range event.Domains() {
		sub, err := s.bus.SubscribePattern(ctx, d.Pattern(), bus.HandlerFunc(s.Handle))
		if err != nil {
			s.Stop(ctx)
			return fmt.Errorf("audit: subscribe %s: %w", d.Pattern(), err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// Stop removes the bus subscriptions.
func (s *Service) Stop(ctx context.Context) {
	for _, sub := range s.subs {
		if err := s.bus.Unsubscribe(ctx, sub); err != nil {
			s.logger.Warn("unsubscribe failed",
				slog.String("pattern", sub.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
	s.subs = nil
}

// Close releases the durable log.
func (s *Service) Close() error {
	if s.log == nil {
		return nil
	}
	return s.log.Close()
}

// Handle records one event. It implements bus.Handler and never fails.
// Events re-emitted by Replay are skipped.
func (s *Service) Handle(ctx context.Context, evt event.Event) error {
	if evt.MetaString(event.MetaReplayID) != "" {
		return nil
	}

	s.mu.Lock()
	t, ok := s.traces[evt.SessionID]
	if !ok {
		t = &EventTrace{
			SessionID: evt.SessionID,
			TenantID:  evt.TenantID,
			StartTime: time.Now(),
		}
		s.traces[evt.SessionID] = t
	}
	t.add(evt, s.maxEvents)
	s.mu.Unlock()

	if s.log != nil {
		err := s.log.Append(ctx, evt)
		s.metrics.RecordDurableWrite(ctx, s.log.Backend(), err)
		if err != nil {
			observability.LogDurableWriteError(s.logger, s.log.Backend(), evt.SessionID, err)
		}
	}
	return nil
}

// CreateTrace starts a fresh trace for the session, replacing any existing
// one.
func (s *Service) CreateTrace(sessionID, tenantID string, metadata map[string]any) EventTrace {
	t := &EventTrace{
		SessionID: sessionID,
		TenantID:  tenantID,
		StartTime: time.Now(),
		Metadata:  maps.Clone(metadata),
	}
	s.mu.Lock()
	s.traces[sessionID] = t
	s.mu.Unlock()
	s.logger.Debug("trace created", slog.String("session_id", sessionID))
	return t.clone()
}

// GetTrace returns a copy of the session's trace.
func (s *Service) GetTrace(sessionID string) (EventTrace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.traces[sessionID]
	if !ok {
		return EventTrace{}, false
	}
	return t.clone(), true
}

// CloseTrace stamps the trace's end time. Capture continues if more events
// arrive for the session.
func (s *Service) CloseTrace(sessionID string) (EventTrace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.traces[sessionID]
	if !ok {
		return EventTrace{}, false
	}
	t.EndTime = time.Now()
	return t.clone(), true
}

// DeleteTrace drops the in-memory trace. Durable history is kept.
func (s *Service) DeleteTrace(sessionID string) {
	s.mu.Lock()
	delete(s.traces, sessionID)
	s.mu.Unlock()
}

// HistoryFilter narrows GetEventHistory. Zero values disable a filter.
type HistoryFilter struct {
	// StartTime keeps events with timestamp >= StartTime (epoch ms).
	StartTime int64
	// EndTime keeps events with timestamp <= EndTime (epoch ms).
	EndTime int64
	// Domain keeps events of one domain.
	Domain event.Domain
	// Limit keeps the newest Limit events.
	Limit int
}

// Apply filters events by time range, then domain, then tail limit.
func (f HistoryFilter) Apply(events []event.Event) []event.Event {
	out := slices.DeleteFunc(slices.Clone(events), func(e event.Event) bool {
		switch {
		case f.StartTime > 0 && e.Timestamp < f.StartTime:
			return true
		case f.EndTime > 0 && e.Timestamp > f.EndTime:
			return true
		case f.Domain != "" && e.Domain != f.Domain:
			return true
		}
		return false
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// GetEventHistory returns the session's history, read from the durable log
// when configured and from memory otherwise or when the log fails.
func (s *Service) GetEventHistory(ctx context.Context, sessionID string, f HistoryFilter) ([]event.Event, error) {
	var history []event.Event
	fromLog := false
	if s.log != nil {
		events, err := s.log.Read(ctx, sessionID)
		if err != nil {
			s.logger.Warn("durable history read failed, using memory",
				slog.String("backend", s.log.Backend()),
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		} else {
			history = events
			fromLog = true
		}
	}
	if !fromLog {
		s.mu.RLock()
		if t, ok := s.traces[sessionID]; ok {
			history = slices.Clone(t.Events)
		}
		s.mu.RUnlock()
	}
	return f.Apply(history), nil
}
