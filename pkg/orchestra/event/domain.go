package event

import "slices"

// Domain is the functional area an event belongs to.
type Domain string

// Domains of the platform. The set is closed.
const (
	DomainPerception Domain = "perception"
	DomainIntent     Domain = "intent"
	DomainTool       Domain = "tool"
	DomainKnowledge  Domain = "knowledge"
	DomainAvatar     Domain = "avatar"
	DomainCompliance Domain = "compliance"
	DomainChannel    Domain = "channel"
)

// Action names what happened inside a domain.
type Action string

// Perception actions.
const (
	ActionAudioReceived Action = "audio.received"
	ActionVideoReceived Action = "video.received"
	ActionTextReceived  Action = "text.received"
)

// Intent actions.
const (
	ActionMessageProcessed  Action = "message.processed"
	ActionIntentDetected    Action = "intent.detected"
	ActionResponseGenerated Action = "response.generated"
)

// Tool actions.
const (
	ActionCallExecuted Action = "call.executed"
	ActionCallFailed   Action = "call.failed"
	ActionCallApproved Action = "call.approved"
)

// Knowledge actions.
const (
	ActionSearchExecuted    Action = "search.executed"
	ActionContextBuilt      Action = "context.built"
	ActionCitationGenerated Action = "citation.generated"
)

// Avatar actions.
const (
	ActionAnimationStarted   Action = "animation.started"
	ActionAnimationCompleted Action = "animation.completed"
	ActionLipSyncUpdated     Action = "lip-sync.updated"
)

// Compliance actions.
const (
	ActionDisclosureShown Action = "disclosure.shown"
	ActionPIIDetected     Action = "pii.detected"
	ActionPIIRedacted     Action = "pii.redacted"
	ActionAuditLogged     Action = "audit.logged"
)

// Channel actions.
const (
	ActionMessageReceived Action = "message.received"
	ActionMessageSent     Action = "message.sent"
	ActionSessionCreated  Action = "session.created"
	ActionSessionClosed   Action = "session.closed"
	ActionSessionPaused   Action = "session.paused"
	ActionSessionResumed  Action = "session.resumed"
)

var domainActions = map[Domain][]Action{
	DomainPerception: {ActionAudioReceived, ActionVideoReceived, ActionTextReceived},
	DomainIntent:     {ActionMessageProcessed, ActionIntentDetected, ActionResponseGenerated},
	DomainTool:       {ActionCallExecuted, ActionCallFailed, ActionCallApproved},
	DomainKnowledge:  {ActionSearchExecuted, ActionContextBuilt, ActionCitationGenerated},
	DomainAvatar:     {ActionAnimationStarted, ActionAnimationCompleted, ActionLipSyncUpdated},
	DomainCompliance: {ActionDisclosureShown, ActionPIIDetected, ActionPIIRedacted, ActionAuditLogged},
	DomainChannel: {
		ActionMessageReceived, ActionMessageSent,
		ActionSessionCreated, ActionSessionClosed,
		ActionSessionPaused, ActionSessionResumed,
	},
}

// Domains returns every domain in declaration order.
func Domains() []Domain {
	return []Domain{
		DomainPerception,
		DomainIntent,
		DomainTool,
		DomainKnowledge,
		DomainAvatar,
		DomainCompliance,
		DomainChannel,
	}
}

// Valid reports whether d is one of the known domains.
func (d Domain) Valid() bool {
	_, ok := domainActions[d]
	return ok
}

// Actions returns the actions allowed for d.
func (d Domain) Actions() []Action {
	return slices.Clone(domainActions[d])
}

// Allows reports whether a is a legal action for d.
func (d Domain) Allows(a Action) bool {
	return slices.Contains(domainActions[d], a)
}

// Pattern returns the "<domain>.*" subscription pattern for d.
func (d Domain) Pattern() string {
	return string(d) + ".*"
}
