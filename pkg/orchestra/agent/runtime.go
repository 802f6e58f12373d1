package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
	"github.com/randalmurphal/orchestra/pkg/orchestra/observability"
	"github.com/randalmurphal/orchestra/pkg/orchestra/registry"
)

// RuntimeConfig configures the runtime.
type RuntimeConfig struct {
	Logger  *slog.Logger
	Metrics observability.MetricsRecorder
	Spans   observability.SpanManager
}

// Runtime owns the agent registry and invokes agents.
type Runtime struct {
	agents  *registry.Registry[string, Agent]
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// NewRuntime creates an empty runtime.
func NewRuntime(cfg RuntimeConfig) *Runtime {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	if cfg.Spans == nil {
		cfg.Spans = observability.NoopSpanManager{}
	}
	return &Runtime{
		agents:  registry.New[string, Agent](),
		logger:  cfg.Logger.With(slog.String("component", "agent_runtime")),
		metrics: cfg.Metrics,
		spans:   cfg.Spans,
	}
}

// Register adds a under a.Name(). An agent with the same name is replaced
// but keeps its position in the broadcast order.
func (r *Runtime) Register(a Agent) {
	if r.agents.Register(a.Name(), a) {
		r.logger.Warn("agent replaced", slog.String("agent", a.Name()))
	}
	r.logger.Info("agent registered",
		slog.String("agent", a.Name()),
		slog.String("version", a.Version()),
	)
}

// Unregister removes the named agent. It reports whether it was registered.
func (r *Runtime) Unregister(name string) bool {
	_, ok := r.agents.Delete(name)
	return ok
}

// Get returns the named agent.
func (r *Runtime) Get(name string) (Agent, bool) {
	return r.agents.Get(name)
}

// List returns all agents in registration order.
func (r *Runtime) List() []Agent {
	return r.agents.Values()
}

// RouteTo invokes exactly the named agent. An unknown agent, a handler error
// or a panic all yield nil.
func (r *Runtime) RouteTo(ctx context.Context, evt event.Event, name string) *event.Event {
	a, ok := r.agents.Get(name)
	if !ok {
		r.logger.Warn("agent not found",
			slog.String("agent", name),
			slog.String("event_type", evt.Type),
		)
		return nil
	}
	return r.call(ctx, a, evt)
}

// Route invokes every registered agent concurrently and returns the first
// non-nil result in registration order, once all agents have finished.
func (r *Runtime) Route(ctx context.Context, evt event.Event) *event.Event {
	agents := r.agents.Values()
	results := make([]*event.Event, len(agents))

	var wg sync.WaitGroup
	for i, a := range agents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.call(ctx, a, evt)
		}()
	}
	wg.Wait()

	for _, res := range results {
		if res != nil {
			return res
		}
	}
	return nil
}

func (r *Runtime) call(ctx context.Context, a Agent, evt event.Event) (out *event.Event) {
	name := a.Name()
	ctx, span := r.spans.StartAgentSpan(ctx, name, evt.Type)
	start := time.Now()

	var err error
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("agent %s panicked: %v", name, rec)
			out = nil
		}
		elapsed := time.Since(start)
		r.metrics.RecordAgentCall(ctx, name, elapsed, err)
		r.spans.EndSpanWithError(span, err)
		if err != nil {
			observability.LogAgentError(r.logger, name, evt.Type, err)
			return
		}
		observability.LogAgentComplete(r.logger, name, evt.Type,
			float64(elapsed.Microseconds())/1000, out != nil)
	}()

	out, err = a.Handle(ctx, evt)
	if err != nil {
		out = nil
	}
	return out
}

// HealthCheck asks every agent for its health. A check that errors or
// panics counts as unhealthy.
func (r *Runtime) HealthCheck(ctx context.Context) map[string]bool {
	agents := r.agents.Values()
	status := make(map[string]bool, len(agents))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, a := range agents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := r.check(ctx, a)
			mu.Lock()
			status[a.Name()] = ok
			mu.Unlock()
		}()
	}
	wg.Wait()
	return status
}

func (r *Runtime) check(ctx context.Context, a Agent) (healthy bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("agent health check panicked",
				slog.String("agent", a.Name()),
				slog.Any("panic", rec),
			)
			healthy = false
		}
	}()
	ok, err := a.HealthCheck(ctx)
	if err != nil {
		r.logger.Warn("agent health check failed",
			slog.String("agent", a.Name()),
			slog.String("error", err.Error()),
		)
		return false
	}
	return ok
}
