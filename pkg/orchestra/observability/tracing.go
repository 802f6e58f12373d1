package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the orchestra tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("orchestra")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartEmitSpan starts a span for publishing one event.
	StartEmitSpan(ctx context.Context, eventType, sessionID string) (context.Context, trace.Span)

	// StartAgentSpan starts a span for one agent call.
	StartAgentSpan(ctx context.Context, agent, eventType string) (context.Context, trace.Span)

	// StartReplaySpan starts a span covering a whole replay.
	StartReplaySpan(ctx context.Context, replayID string, events int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartEmitSpan starts a producer span for an emitted event.
func (m *otelSpanManager) StartEmitSpan(ctx context.Context, eventType, sessionID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orchestra.emit "+eventType,
		trace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("session.id", sessionID),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

// StartAgentSpan starts a span for an agent call.
func (m *otelSpanManager) StartAgentSpan(ctx context.Context, agent, eventType string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orchestra.agent."+agent,
		trace.WithAttributes(
			attribute.String("agent.name", agent),
			attribute.String("event.type", eventType),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartReplaySpan starts a span for a replay.
func (m *otelSpanManager) StartReplaySpan(ctx context.Context, replayID string, events int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orchestra.replay",
		trace.WithAttributes(
			attribute.String("replay.id", replayID),
			attribute.Int("replay.events", events),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
