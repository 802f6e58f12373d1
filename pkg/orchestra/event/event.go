package event

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Well-known metadata keys stamped by the runtime.
const (
	MetaCorrelationID = "correlationId"
	MetaCausationID   = "causationId"
	MetaHop           = "hop"
	MetaReplayID      = "replayId"
)

// Event is the envelope for every message on the bus.
//
// Events are values. Methods that change an event return a modified copy and
// never touch the receiver's metadata map.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Domain    Domain         `json:"domain"`
	Action    Action         `json:"action"`
	Timestamp int64          `json:"timestamp"` // epoch milliseconds
	SessionID string         `json:"sessionId"`
	TenantID  string         `json:"tenantId"`
	UserID    string         `json:"userId,omitempty"`
	Payload   Payload        `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Option configures event creation.
type Option func(*Event)

// WithID sets a specific event ID (default: auto-generated UUID).
func WithID(id string) Option {
	return func(e *Event) {
		e.ID = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(e *Event) {
		e.Timestamp = t.UnixMilli()
	}
}

// WithUserID sets the originating user.
func WithUserID(userID string) Option {
	return func(e *Event) {
		e.UserID = userID
	}
}

// WithMetadata merges the given keys into the event metadata.
func WithMetadata(md map[string]any) Option {
	return func(e *Event) {
		if len(md) == 0 {
			return
		}
		if e.Metadata == nil {
			e.Metadata = make(map[string]any, len(md))
		}
		maps.Copy(e.Metadata, md)
	}
}

// New creates an event for the given action. The domain is taken from the
// payload, so an event can never carry a payload of another domain.
//
// Example:
//
//	evt := event.New(event.ActionTextReceived, sessionID, tenantID,
//	    event.PerceptionPayload{Data: "hi", Format: "text"})
func New(action Action, sessionID, tenantID string, payload Payload, opts ...Option) Event {
	var domain Domain
	if payload != nil {
		domain = payload.Domain()
	}

	evt := Event{
		ID:        uuid.NewString(),
		Type:      TypeOf(domain, action),
		Domain:    domain,
		Action:    action,
		Timestamp: time.Now().UnixMilli(),
		SessionID: sessionID,
		TenantID:  tenantID,
		Payload:   payload,
	}

	for _, opt := range opts {
		opt(&evt)
	}
	return evt
}

// TypeOf joins a domain and action into an event type.
func TypeOf(d Domain, a Action) string {
	return string(d) + "." + string(a)
}

// WithDefaults returns a copy with ID, Timestamp and Type filled in when the
// caller left them empty.
func (e Event) WithDefaults(now time.Time) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp == 0 {
		e.Timestamp = now.UnixMilli()
	}
	if e.Type == "" && e.Domain != "" && e.Action != "" {
		e.Type = TypeOf(e.Domain, e.Action)
	}
	return e
}

// Time returns the event timestamp as a time.Time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Topic returns the pub/sub topic the event is published on.
func (e Event) Topic() string {
	return Topic(e.Domain, e.Action)
}

// Clone returns a copy whose metadata map is not shared with e.
func (e Event) Clone() Event {
	e.Metadata = maps.Clone(e.Metadata)
	return e
}

// WithMeta returns a copy of e with key set to value.
func (e Event) WithMeta(key string, value any) Event {
	out := e.Clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]any, 1)
	}
	out.Metadata[key] = value
	return out
}

// MetaString returns a string metadata value, or "" when missing.
func (e Event) MetaString(key string) string {
	s, _ := e.Metadata[key].(string)
	return s
}

// MetaInt returns an integer metadata value. Numbers that went through a JSON
// or CBOR round trip come back as float64, int64 or uint64; all are accepted.
func (e Event) MetaInt(key string) (int, bool) {
	switch v := e.Metadata[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// CorrelationID returns the correlation chain root. An event that started a
// chain is its own root.
func (e Event) CorrelationID() string {
	if id := e.MetaString(MetaCorrelationID); id != "" {
		return id
	}
	return e.ID
}

// CausedBy returns a copy of e linked to the parent event: the causation ID
// is the parent's ID, the correlation ID is inherited and the hop count is
// one more than the parent's. A parent emitted by a replay passes its replay
// ID on, so follow-ups of replayed events stay marked as replayed.
func (e Event) CausedBy(parent Event) Event {
	hop, _ := parent.MetaInt(MetaHop)
	out := e.Clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]any, 4)
	}
	out.Metadata[MetaCausationID] = parent.ID
	out.Metadata[MetaCorrelationID] = parent.CorrelationID()
	out.Metadata[MetaHop] = hop + 1
	if id := parent.MetaString(MetaReplayID); id != "" {
		out.Metadata[MetaReplayID] = id
	}
	return out
}
