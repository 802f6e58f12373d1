package event

import (
	"fmt"
	"strings"
)

// TopicPrefix is the namespace shared by every event topic.
const TopicPrefix = "events"

// Wildcard patterns.
const (
	// AllPattern matches every event.
	AllPattern = "*.*"
	// AllTopicPattern is the broker form of AllPattern.
	AllTopicPattern = TopicPrefix + ":*"
)

// Topic returns "events:<domain>:<action>".
func Topic(d Domain, a Action) string {
	return TopicPrefix + ":" + string(d) + ":" + string(a)
}

// ParseType splits an event type into its domain and action and checks both
// against the closed vocabulary. The action may itself contain dots
// ("audio.received"), so only the first dot separates the two.
func ParseType(eventType string) (Domain, Action, error) {
	d, a, ok := strings.Cut(eventType, ".")
	if !ok || d == "" || a == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPattern, eventType)
	}
	domain := Domain(d)
	if !domain.Valid() {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownDomain, d)
	}
	action := Action(a)
	if !domain.Allows(action) {
		return "", "", fmt.Errorf("%w: %q for domain %s", ErrUnknownAction, a, d)
	}
	return domain, action, nil
}

// TopicForType maps an exact event type to its topic.
func TopicForType(eventType string) (string, error) {
	d, a, err := ParseType(eventType)
	if err != nil {
		return "", err
	}
	return Topic(d, a), nil
}

// PatternTopic maps a subscription pattern to its broker pattern.
// "<domain>.*" becomes "events:<domain>:*" and "*.*" becomes "events:*".
func PatternTopic(pattern string) (string, error) {
	if pattern == AllPattern {
		return AllTopicPattern, nil
	}
	d, rest, ok := strings.Cut(pattern, ".")
	if !ok || rest != "*" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}
	if !Domain(d).Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownDomain, d)
	}
	return TopicPrefix + ":" + d + ":*", nil
}

// IsPattern reports whether s is a wildcard pattern rather than an exact type.
func IsPattern(s string) bool {
	return strings.HasSuffix(s, ".*")
}
