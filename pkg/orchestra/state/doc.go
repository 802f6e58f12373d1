// Package state keeps a small derived key/value view per session.
//
// The Service subscribes to every event on the bus. For each event it
// creates the session's state if needed and merges a few projections:
//
//	lastEvent      event type
//	lastEventTime  event timestamp (epoch ms)
//	lastIntent     intent payloads with an intent
//	lastTool       tool payloads
//	lastQuery      knowledge payloads
//	channel        channel payloads
//
// It also keeps the raw events per session. That history is not capped;
// callers bound what they read.
//
// State lives in a Store. MemoryStore is process-local. ReplicatedStore
// keeps states in a Pulse replicated map so several instances share them;
// values go through JSON there, so numbers come back as float64.
package state
