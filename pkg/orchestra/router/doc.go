// Package router maps events to agents.
//
// The Router keeps a table of event pattern to agent names. It subscribes to
// every domain on the bus, resolves the agents for each event and re-emits
// any follow-up event an agent returns.
//
// Pattern lookup order for an event "tool.call.failed":
//
//  1. the exact type "tool.call.failed"
//  2. the domain pattern "tool.*"
//  3. the catch-all "*.*"
//
// Follow-up events are linked to their cause (see event.Event.CausedBy). A
// chain that exceeds MaxDepth hops is cut and the follow-up dropped, so two
// agents answering each other cannot loop forever.
package router
