package audit

import (
	"maps"
	"slices"
	"time"

	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
)

// DefaultMaxTraceEvents bounds the in-memory trace of one session.
const DefaultMaxTraceEvents = 1000

// EventTrace is the captured history of one session.
type EventTrace struct {
	SessionID string         `json:"sessionId"`
	TenantID  string         `json:"tenantId"`
	Events    []event.Event  `json:"events"`
	StartTime time.Time      `json:"startTime"`
	EndTime   time.Time      `json:"endTime,omitzero"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Closed reports whether CloseTrace stamped an end time.
func (t EventTrace) Closed() bool {
	return !t.EndTime.IsZero()
}

func (t EventTrace) clone() EventTrace {
	t.Events = slices.Clone(t.Events)
	t.Metadata = maps.Clone(t.Metadata)
	return t
}

// add appends evt, dropping the oldest events beyond limit.
func (t *EventTrace) add(evt event.Event, limit int) {
	if over := len(t.Events) + 1 - limit; over > 0 {
		t.Events = slices.Delete(t.Events, 0, over)
	}
	t.Events = append(t.Events, evt)
}
