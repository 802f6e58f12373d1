package audit

import "errors"

// Sentinel errors for audit operations.
var (
	// ErrReplayNotFound is returned for an unknown replay ID.
	ErrReplayNotFound = errors.New("replay session not found")

	// ErrUnsupportedFormat is returned by ExportAuditLog for unknown formats.
	ErrUnsupportedFormat = errors.New("unsupported export format")

	// ErrLogClosed is returned by operations on a closed log.
	ErrLogClosed = errors.New("history log closed")
)
