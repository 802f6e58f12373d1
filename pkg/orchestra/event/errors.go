package event

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrUnknownDomain is returned for a domain outside the closed set.
	ErrUnknownDomain = errors.New("unknown event domain")

	// ErrUnknownAction is returned for an action the domain does not allow.
	ErrUnknownAction = errors.New("unknown event action")

	// ErrInvalidPattern is returned for a malformed subscription pattern.
	ErrInvalidPattern = errors.New("invalid event pattern")
)

// ValidationError reports an event that violates the envelope or payload
// contract. Field is a JSON pointer style location when known.
type ValidationError struct {
	EventType string // Type of the rejected event
	Field     string // Offending field, if known
	Message   string // Human readable reason
	Err       error  // Underlying error
}

// Error implements error interface.
func (e *ValidationError) Error() string {
	loc := e.EventType
	if e.Field != "" {
		loc += " " + e.Field
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid event %s: %s: %v", loc, e.Message, e.Err)
	}
	return fmt.Sprintf("invalid event %s: %s", loc, e.Message)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}
