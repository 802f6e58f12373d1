// Package event defines the orchestration event envelope and its closed
// vocabulary of domains and actions.
//
// # Overview
//
// Every interaction in the platform is expressed as an Event. An Event
// carries identity (ID, Type), scope (SessionID, TenantID, UserID), a
// millisecond timestamp, a domain-specific Payload and optional metadata.
//
//   - Domain is one of seven closed values (perception, intent, tool,
//     knowledge, avatar, compliance, channel).
//   - Action is a closed set per domain.
//   - Type is always Domain + "." + Action.
//
// # Payloads
//
// Payload is a sealed sum type. There is exactly one concrete payload per
// domain and consumers branch on it with a type switch:
//
//	switch p := evt.Payload.(type) {
//	case event.IntentPayload:
//	    handleIntent(p)
//	case event.ToolPayload:
//	    handleTool(p)
//	}
//
// # Validation
//
// SchemaSet validates the envelope and the payload. Payload schemas are JSON
// Schema documents embedded in the binary, one per domain.
//
//	if err := event.DefaultSchemas().Validate(evt); err != nil {
//	    var verr *event.ValidationError
//	    errors.As(err, &verr)
//	}
//
// # Topics
//
// Events travel on topics of the form "events:<domain>:<action>". Pattern
// subscriptions use "<domain>.*" (mapped to "events:<domain>:*") or "*.*"
// (mapped to "events:*").
//
// # Codecs
//
// JSONCodec is the default wire format. CBORCodec is a compact binary
// alternative; both round-trip the sealed payload through the domain tag.
package event
