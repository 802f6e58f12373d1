// Package registry provides a thread-safe, insertion-ordered registry.
//
// Registries hold the agents, channels and sessions of the runtime. Iteration
// always follows registration order, which gives the agent runtime a
// deterministic tie-break when several agents answer the same event.
//
//	agents := registry.New[string, agent.Agent]()
//	agents.Register("media-agent", media)
//	for _, name := range agents.Keys() { ... }
package registry
