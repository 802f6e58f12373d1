// Package agent holds the agent registry and the runtime that dispatches
// events to agents.
//
// An Agent consumes one event and may answer with a follow-up event. The
// Runtime isolates agents from each other: an error or panic inside one
// agent is logged and treated as "no result", never propagated to the
// caller or to sibling agents.
//
// Basic usage:
//
//	rt := agent.NewRuntime(agent.RuntimeConfig{Logger: logger})
//	rt.Register(myAgent)
//
//	// Route to one agent
//	followUp := rt.RouteTo(ctx, evt, "conversation-agent")
//
//	// Broadcast; the first non-nil result in registration order wins
//	followUp = rt.Route(ctx, evt)
package agent
