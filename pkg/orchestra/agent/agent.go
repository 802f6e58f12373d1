package agent

import (
	"context"

	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
)

// Agent is a named event handler that may produce a follow-up event.
type Agent interface {
	// Name identifies the agent in routing rules.
	Name() string

	// Version is reported in logs and health output.
	Version() string

	// Handle processes evt. A nil event means no follow-up.
	Handle(ctx context.Context, evt event.Event) (*event.Event, error)

	// HealthCheck reports whether the agent can take work.
	HealthCheck(ctx context.Context) (bool, error)
}

// Func adapts a function to Agent. Useful for tests and small inline agents.
type Func struct {
	AgentName    string
	AgentVersion string
	Fn           func(ctx context.Context, evt event.Event) (*event.Event, error)
}

// Name implements Agent.
func (f Func) Name() string { return f.AgentName }

// Version implements Agent.
func (f Func) Version() string {
	if f.AgentVersion == "" {
		return "0.0.0"
	}
	return f.AgentVersion
}

// Handle implements Agent.
func (f Func) Handle(ctx context.Context, evt event.Event) (*event.Event, error) {
	if f.Fn == nil {
		return nil, nil
	}
	return f.Fn(ctx, evt)
}

// HealthCheck implements Agent.
func (f Func) HealthCheck(context.Context) (bool, error) { return true, nil }
