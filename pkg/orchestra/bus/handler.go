package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
)

// Handler consumes events delivered by the bus.
type Handler interface {
	Handle(ctx context.Context, evt event.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt event.Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt event.Event) error {
	return f(ctx, evt)
}

// MiddlewareFunc wraps a handler.
type MiddlewareFunc func(next Handler) Handler

// ChainMiddleware applies middleware so that the first one listed runs
// outermost.
func ChainMiddleware(h Handler, middleware ...MiddlewareFunc) Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

// PanicError is returned by RecoveryMiddleware when a handler panics.
type PanicError struct {
	EventType string
	Value     any
}

// Error implements error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic on %s: %v", e.EventType, e.Value)
}

// RecoveryMiddleware recovers from panics in handlers.
func RecoveryMiddleware() MiddlewareFunc {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, evt event.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{EventType: evt.Type, Value: r}
				}
			}()
			return next.Handle(ctx, evt)
		})
	}
}

// LoggingMiddleware logs each handled event at debug level.
func LoggingMiddleware(logger *slog.Logger, component string) MiddlewareFunc {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, evt event.Event) error {
			start := time.Now()
			err := next.Handle(ctx, evt)
			if logger != nil {
				logger.Debug("event handled",
					slog.String("component", component),
					slog.String("event_type", evt.Type),
					slog.String("event_id", evt.ID),
					slog.Duration("duration", time.Since(start)),
					slog.Bool("failed", err != nil),
				)
			}
			return err
		})
	}
}
