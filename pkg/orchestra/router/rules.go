package router

import (
	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
)

// Agent names used by the default routing table.
const (
	MediaAgent        = "media-agent"
	ConversationAgent = "conversation-agent"
	RetrievalAgent    = "retrieval-agent"
	ToolAgent         = "tool-agent"
	ComplianceAgent   = "compliance-agent"
)

// DefaultRules returns the seed routing table, one rule per domain.
func DefaultRules() map[string][]string {
	return map[string][]string{
		event.DomainPerception.Pattern(): {MediaAgent},
		event.DomainIntent.Pattern():     {ConversationAgent},
		event.DomainKnowledge.Pattern():  {RetrievalAgent},
		event.DomainTool.Pattern():       {ToolAgent},
		event.DomainCompliance.Pattern(): {ComplianceAgent},
		event.DomainAvatar.Pattern():     {MediaAgent},
		event.DomainChannel.Pattern():    {ConversationAgent},
	}
}

// checkPattern accepts exact event types, "<domain>.*" and "*.*".
func checkPattern(pattern string) error {
	if event.IsPattern(pattern) {
		_, err := event.PatternTopic(pattern)
		return err
	}
	_, _, err := event.ParseType(pattern)
	return err
}
