package audit

import (
	"context"

	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
)

// Log is durable, append-only event history keyed by session.
type Log interface {
	// Backend names the implementation for logs and metrics.
	Backend() string

	// Append records evt under its session.
	Append(ctx context.Context, evt event.Event) error

	// Read returns the retained events of a session, oldest first.
	Read(ctx context.Context, sessionID string) ([]event.Event, error)

	// Close releases the log.
	Close() error
}
