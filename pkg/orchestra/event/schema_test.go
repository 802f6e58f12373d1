package event_test

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
)

func TestSchemaSet_ValidEvents(t *testing.T) {
	schemas := event.DefaultSchemas()

	valid := []event.Event{
		event.New(event.ActionAudioReceived, "s", "t", event.PerceptionPayload{Data: "AAAA", Format: "pcm16", Language: "en"}),
		event.New(event.ActionIntentDetected, "s", "t", event.IntentPayload{Message: "hi", Intent: "greet", Confidence: 0.9}),
		event.New(event.ActionCallExecuted, "s", "t", event.ToolPayload{ToolName: "lookup", ToolInput: map[string]any{"id": 1}}),
		event.New(event.ActionSearchExecuted, "s", "t", event.KnowledgePayload{Query: "refunds", Results: []any{"a"}}),
		event.New(event.ActionLipSyncUpdated, "s", "t", event.AvatarPayload{AnimationType: "talk", VisemeData: []float64{0.1}}),
		event.New(event.ActionPIIRedacted, "s", "t", event.CompliancePayload{Action: "redact", PIIType: "ssn"}),
		event.New(event.ActionSessionCreated, "s", "t", event.ChannelPayload{Channel: "web", ChannelID: "c1", Direction: event.DirectionInbound}),
	}

	for _, evt := range valid {
		t.Run(evt.Type, func(t *testing.T) {
			assert.NoError(t, schemas.Validate(evt))
		})
	}
}

func TestSchemaSet_Rejects(t *testing.T) {
	schemas := event.DefaultSchemas()
	base := event.New(event.ActionCallExecuted, "s", "t", event.ToolPayload{ToolName: "x", ToolInput: map[string]any{}})

	tests := []struct {
		name  string
		mut   func(e event.Event) event.Event
		field string
	}{
		{"missing tool input", func(e event.Event) event.Event {
			e.Payload = event.ToolPayload{ToolName: "x"}
			return e
		}, "/payload"},
		{"missing session", func(e event.Event) event.Event {
			e.SessionID = ""
			return e
		}, "/sessionId"},
		{"missing tenant", func(e event.Event) event.Event {
			e.TenantID = ""
			return e
		}, "/tenantId"},
		{"foreign action", func(e event.Event) event.Event {
			e.Action = event.ActionAudioReceived
			e.Type = "tool.audio.received"
			return e
		}, "/action"},
		{"type mismatch", func(e event.Event) event.Event {
			e.Type = "tool.call.failed"
			return e
		}, "/type"},
		{"payload from other domain", func(e event.Event) event.Event {
			e.Payload = event.IntentPayload{Message: "x"}
			return e
		}, "/payload"},
		{"nil payload", func(e event.Event) event.Event {
			e.Payload = nil
			return e
		}, "/payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schemas.Validate(tt.mut(base))
			require.Error(t, err)

			var verr *event.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Field, tt.field)
		})
	}
}

func TestSchemaSet_ConfidenceOutOfRange(t *testing.T) {
	evt := event.New(event.ActionIntentDetected, "s", "t", event.IntentPayload{Message: "x", Confidence: 1.5})
	err := event.DefaultSchemas().Validate(evt)

	var verr *event.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "intent.intent.detected", verr.EventType)
}

func TestNewSchemaSet_MissingDomain(t *testing.T) {
	fsys := fstest.MapFS{
		"perception.json": {Data: []byte(`{"type":"object"}`)},
	}
	_, err := event.NewSchemaSet(fsys)
	assert.Error(t, err)
}
