package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/randalmurphal/orchestra/pkg/orchestra/bus"
	"github.com/randalmurphal/orchestra/pkg/orchestra/config"
	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
	"github.com/randalmurphal/orchestra/pkg/orchestra/observability"
)

// Bus is the part of the event bus the router needs.
type Bus interface {
	Emit(ctx context.Context, evt event.Event) error
	SubscribePattern(ctx context.Context, pattern string, h bus.Handler) (*bus.Subscription, error)
	Unsubscribe(ctx context.Context, sub *bus.Subscription) error
}

// Dispatcher invokes one agent by name. *agent.Runtime implements it.
type Dispatcher interface {
	RouteTo(ctx context.Context, evt event.Event, name string) *event.Event
}

// Config configures the router.
type Config struct {
	// MaxDepth is the longest allowed chain of follow-up events.
	// Default: 10
	MaxDepth int

	Logger *slog.Logger
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	MaxDepth: 10,
}

// Router routes bus events to agents.
type Router struct {
	bus      Bus
	agents   Dispatcher
	maxDepth int
	logger   *slog.Logger

	mu    sync.RWMutex
	rules map[string][]string
	subs  []*bus.Subscription
}

// New creates a router seeded with DefaultRules.
func New(b Bus, agents Dispatcher, cfg Config) *Router {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultConfig.MaxDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		bus:      b,
		agents:   agents,
		maxDepth: cfg.MaxDepth,
		logger:   cfg.Logger.With(slog.String("component", "event_router")),
		rules:    DefaultRules(),
	}
}

// AddRoutingRule sets the agents for pattern, replacing any existing rule.
func (r *Router) AddRoutingRule(pattern string, agents ...string) error {
	if err := checkPattern(pattern); err != nil {
		return fmt.Errorf("router: rule %q: %w", pattern, err)
	}
	if len(agents) == 0 {
		return fmt.Errorf("router: rule %q has no agents", pattern)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[pattern] = slices.Clone(agents)
	r.logger.Info("routing rule set",
		slog.String("pattern", pattern),
		slog.Any("agents", agents),
	)
	return nil
}

// RemoveRoutingRule deletes the rule for pattern. It reports whether one
// existed.
func (r *Router) RemoveRoutingRule(pattern string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[pattern]; !ok {
		return false
	}
	delete(r.rules, pattern)
	return true
}

// ApplyRules adds every configured rule.
func (r *Router) ApplyRules(rules []config.RuleSettings) error {
	var errs []error
	for _, rule := range rules {
		if err := r.AddRoutingRule(rule.Pattern, rule.Agents...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Rules returns a copy of the routing table.
func (r *Router) Rules() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.rules))
	for k, v := range r.rules {
		out[k] = slices.Clone(v)
	}
	return out
}

// Match returns the agents for evt, or nil when no rule applies.
func (r *Router) Match(evt event.Event) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range []string{evt.Type, evt.Domain.Pattern(), event.AllPattern} {
		if agents, ok := r.rules[key]; ok {
			return slices.Clone(agents)
		}
	}
	return nil
}

// Start subscribes the router to every domain on the bus.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.subs) > 0 {
		return nil
	}

	for _, d := range event.Domains() {
		sub, err := r.bus.SubscribePattern(ctx, d.Pattern(), bus.HandlerFunc(r.Handle))
		if err != nil {
			r.unsubscribeLocked(ctx)
			return fmt.Errorf("router: subscribe %s: %w", d.Pattern(), err)
		}
		r.subs = append(r.subs, sub)
	}
	r.logger.Info("event router started", slog.Int("rules", len(r.rules)))
	return nil
}

// Stop removes the router's bus subscriptions.
func (r *Router) Stop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(ctx)
}

func (r *Router) unsubscribeLocked(ctx context.Context) {
	for _, sub := range r.subs {
		if err := r.bus.Unsubscribe(ctx, sub); err != nil {
			r.logger.Warn("unsubscribe failed",
				slog.String("pattern", sub.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
	r.subs = nil
}

// Handle routes one event. It implements bus.Handler and never fails: agent
// errors are isolated by the dispatcher and emit errors are logged.
func (r *Router) Handle(ctx context.Context, evt event.Event) error {
	agents := r.Match(evt)
	if len(agents) == 0 {
		r.logger.Debug("no routing rule",
			slog.String("event_type", evt.Type),
			slog.String("event_id", evt.ID),
		)
		return nil
	}

	results := make(map[string]*event.Event, len(agents))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range agents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := r.agents.RouteTo(ctx, evt, name)
			if out == nil {
				return
			}
			mu.Lock()
			results[name] = out
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, name := range slices.Sorted(maps.Keys(results)) {
		r.forward(ctx, evt, *results[name], name)
	}
	return nil
}

func (r *Router) forward(ctx context.Context, cause, followUp event.Event, agentName string) {
	followUp = followUp.CausedBy(cause)
	if followUp.SessionID == "" {
		followUp.SessionID = cause.SessionID
	}
	if followUp.TenantID == "" {
		followUp.TenantID = cause.TenantID
	}
	if followUp.UserID == "" {
		followUp.UserID = cause.UserID
	}

	hop, _ := followUp.MetaInt(event.MetaHop)
	if hop > r.maxDepth {
		observability.LogRouteDropped(r.logger, followUp.Type, followUp.CorrelationID(), hop, r.maxDepth)
		return
	}

	if err := r.bus.Emit(ctx, followUp); err != nil {
		r.logger.Error("follow-up event rejected",
			slog.String("agent", agentName),
			slog.String("event_type", followUp.Type),
			slog.String("cause_id", cause.ID),
			slog.String("error", err.Error()),
		)
	}
}
