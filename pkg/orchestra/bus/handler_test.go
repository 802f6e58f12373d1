package bus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orchestra/pkg/orchestra/bus"
	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
)

func TestRecoveryMiddleware(t *testing.T) {
	h := bus.ChainMiddleware(bus.HandlerFunc(func(context.Context, event.Event) error {
		panic("kaboom")
	}), bus.RecoveryMiddleware())

	err := h.Handle(context.Background(), event.Event{Type: "tool.call.failed"})

	var perr *bus.PanicError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "kaboom", perr.Value)
	assert.Contains(t, err.Error(), "tool.call.failed")
}

func TestChainMiddleware_Order(t *testing.T) {
	var order []string
	mark := func(name string) bus.MiddlewareFunc {
		return func(next bus.Handler) bus.Handler {
			return bus.HandlerFunc(func(ctx context.Context, evt event.Event) error {
				order = append(order, name)
				return next.Handle(ctx, evt)
			})
		}
	}

	h := bus.ChainMiddleware(bus.HandlerFunc(func(context.Context, event.Event) error {
		order = append(order, "handler")
		return nil
	}), mark("outer"), mark("inner"), bus.LoggingMiddleware(nil, "test"))

	require.NoError(t, h.Handle(context.Background(), event.Event{}))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
