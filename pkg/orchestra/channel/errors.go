package channel

import "errors"

// Sentinel errors for channel operations.
var (
	// ErrChannelNotFound is returned for an unregistered channel name.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionNotActive is returned when an operation needs an active session.
	ErrSessionNotActive = errors.New("session not active")

	// ErrSessionNotPaused is returned when resuming a session that is not paused.
	ErrSessionNotPaused = errors.New("session not paused")

	// ErrChannelMismatch is returned when a session does not belong to the
	// channel named in the call.
	ErrChannelMismatch = errors.New("session belongs to another channel")

	// ErrInvalidSessionConfig is returned for a session config without
	// tenant or channel ID.
	ErrInvalidSessionConfig = errors.New("invalid session config")
)
