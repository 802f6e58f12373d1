package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Emit outcomes recorded by RecordEmit.
const (
	EmitPublished = "published"
	EmitDropped   = "dropped"
	EmitRejected  = "rejected"
	EmitFailed    = "failed"
)

// MetricsRecorder records orchestration metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEmit records an emit attempt and its outcome.
	RecordEmit(ctx context.Context, eventType, outcome string)

	// RecordDispatch records delivery of one message to its local handlers.
	RecordDispatch(ctx context.Context, eventType string, handlers int, duration time.Duration)

	// RecordHandlerError records a failed or panicking subscriber.
	RecordHandlerError(ctx context.Context, component, eventType string)

	// RecordAgentCall records an agent invocation with its duration and error status.
	RecordAgentCall(ctx context.Context, agent string, duration time.Duration, err error)

	// RecordDurableWrite records a write to durable history.
	RecordDurableWrite(ctx context.Context, backend string, err error)

	// RecordReplay records a completed replay.
	RecordReplay(ctx context.Context, events int, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	emits           metric.Int64Counter
	dispatchLatency metric.Float64Histogram
	handlerErrors   metric.Int64Counter
	agentCalls      metric.Int64Counter
	agentLatency    metric.Float64Histogram
	agentErrors     metric.Int64Counter
	durableWrites   metric.Int64Counter
	replayEvents    metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("orchestra")

	emits, err := meter.Int64Counter("orchestra.bus.emits",
		metric.WithDescription("Number of emit attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	dispatchLatency, err := meter.Float64Histogram("orchestra.bus.dispatch_ms",
		metric.WithDescription("Time to run all local handlers for one message"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	handlerErrors, err := meter.Int64Counter("orchestra.bus.handler_errors",
		metric.WithDescription("Number of failed or panicking handlers"),
	)
	if err != nil {
		return nil, err
	}

	agentCalls, err := meter.Int64Counter("orchestra.agent.calls",
		metric.WithDescription("Number of agent invocations"),
	)
	if err != nil {
		return nil, err
	}

	agentLatency, err := meter.Float64Histogram("orchestra.agent.latency_ms",
		metric.WithDescription("Agent handling latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	agentErrors, err := meter.Int64Counter("orchestra.agent.errors",
		metric.WithDescription("Number of agent failures"),
	)
	if err != nil {
		return nil, err
	}

	durableWrites, err := meter.Int64Counter("orchestra.audit.durable_writes",
		metric.WithDescription("Number of durable history writes"),
	)
	if err != nil {
		return nil, err
	}

	replayEvents, err := meter.Int64Histogram("orchestra.audit.replay_events",
		metric.WithDescription("Events re-emitted per replay"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		emits:           emits,
		dispatchLatency: dispatchLatency,
		handlerErrors:   handlerErrors,
		agentCalls:      agentCalls,
		agentLatency:    agentLatency,
		agentErrors:     agentErrors,
		durableWrites:   durableWrites,
		replayEvents:    replayEvents,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordEmit records an emit attempt.
func (m *otelMetrics) RecordEmit(ctx context.Context, eventType, outcome string) {
	m.emits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	))
}

// RecordDispatch records local delivery of one message.
func (m *otelMetrics) RecordDispatch(ctx context.Context, eventType string, handlers int, duration time.Duration) {
	m.dispatchLatency.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.Int("handlers", handlers),
	))
}

// RecordHandlerError records a subscriber failure.
func (m *otelMetrics) RecordHandlerError(ctx context.Context, component, eventType string) {
	m.handlerErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("event_type", eventType),
	))
}

// RecordAgentCall records an agent invocation.
func (m *otelMetrics) RecordAgentCall(ctx context.Context, agent string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("agent", agent))

	m.agentCalls.Add(ctx, 1, attrs)
	m.agentLatency.Record(ctx, float64(duration.Milliseconds()), attrs)

	if err != nil {
		m.agentErrors.Add(ctx, 1, attrs)
	}
}

// RecordDurableWrite records a durable history write.
func (m *otelMetrics) RecordDurableWrite(ctx context.Context, backend string, err error) {
	m.durableWrites.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.Bool("success", err == nil),
	))
}

// RecordReplay records a completed replay.
func (m *otelMetrics) RecordReplay(ctx context.Context, events int, _ time.Duration) {
	m.replayEvents.Record(ctx, int64(events))
}
