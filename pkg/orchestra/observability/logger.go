// Package observability provides structured logging, metrics, and
// distributed tracing for the orchestration runtime.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every LogXxx helper accepts a nil logger and does nothing with it.
package observability

import (
	"fmt"
	"log/slog"
	"time"
)

// EnrichLogger adds event context to a logger.
// Returns a new logger with event_id, event_type, and session_id fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, evt.ID, evt.Type, evt.SessionID)
//	enriched.Info("routing") // includes event_id, event_type, session_id
func EnrichLogger(logger *slog.Logger, eventID, eventType, sessionID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_id", eventID),
		slog.String("event_type", eventType),
		slog.String("session_id", sessionID),
	)
}

// LogEmitDropped logs an event that was not published.
func LogEmitDropped(logger *slog.Logger, eventType, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("event dropped",
		slog.String("event_type", eventType),
		slog.String("reason", reason),
	)
}

// LogEmitRejected logs an event that failed validation.
func LogEmitRejected(logger *slog.Logger, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Error("event rejected",
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogHandlerError logs a subscriber failure. The failure never reaches
// other subscribers.
func LogHandlerError(logger *slog.Logger, component, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Error("handler failed",
		slog.String("component", component),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogHandlerPanic logs a recovered subscriber panic.
func LogHandlerPanic(logger *slog.Logger, component, eventType string, recovered any) {
	if logger == nil {
		return
	}
	logger.Error("handler panicked",
		slog.String("component", component),
		slog.String("event_type", eventType),
		slog.String("panic", fmt.Sprint(recovered)),
	)
}

// LogAgentComplete logs a finished agent call.
func LogAgentComplete(logger *slog.Logger, agent, eventType string, durationMs float64, produced bool) {
	if logger == nil {
		return
	}
	logger.Debug("agent completed",
		slog.String("agent", agent),
		slog.String("event_type", eventType),
		slog.Float64("duration_ms", durationMs),
		slog.Bool("produced_event", produced),
	)
}

// LogAgentError logs an agent failure (non-fatal).
func LogAgentError(logger *slog.Logger, agent, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Error("agent failed",
		slog.String("agent", agent),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogRouteDropped logs a follow-up event discarded by the hop limit.
func LogRouteDropped(logger *slog.Logger, eventType, correlationID string, hop, maxDepth int) {
	if logger == nil {
		return
	}
	logger.Warn("follow-up event dropped: max routing depth exceeded",
		slog.String("event_type", eventType),
		slog.String("correlation_id", correlationID),
		slog.Int("hop", hop),
		slog.Int("max_depth", maxDepth),
	)
}

// LogDurableWriteError logs a failed write to durable history (non-fatal).
func LogDurableWriteError(logger *slog.Logger, backend, sessionID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("durable history write failed",
		slog.String("backend", backend),
		slog.String("session_id", sessionID),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
