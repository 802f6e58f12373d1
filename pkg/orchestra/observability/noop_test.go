package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoopImplementations(t *testing.T) {
	ctx := context.Background()

	assert.NotPanics(t, func() {
		var m MetricsRecorder = NoopMetrics{}
		m.RecordEmit(ctx, "a.b", EmitPublished)
		m.RecordDispatch(ctx, "a.b", 1, time.Millisecond)
		m.RecordHandlerError(ctx, "bus", "a.b")
		m.RecordAgentCall(ctx, "agent", time.Millisecond, errors.New("x"))
		m.RecordDurableWrite(ctx, "sqlite", nil)
		m.RecordReplay(ctx, 1, time.Millisecond)
	})

	var sm SpanManager = NoopSpanManager{}
	got, span := sm.StartEmitSpan(ctx, "a.b", "s")
	assert.Equal(t, ctx, got)
	assert.False(t, span.IsRecording())

	_, span = sm.StartAgentSpan(ctx, "agent", "a.b")
	sm.EndSpanWithError(span, errors.New("x"))
	_, span = sm.StartReplaySpan(ctx, "r", 0)
	sm.EndSpanWithError(span, nil)
	sm.AddSpanEvent(ctx, "noop")
}
