// Package bus publishes validated events on a Broker and dispatches
// incoming events to local subscribers.
//
// # Emitting
//
// Emit fills in a missing ID and timestamp, validates the event against the
// schema set and publishes it on "events:<domain>:<action>". Validation
// failures are returned as *event.ValidationError. When the bus is not
// connected the event is logged and dropped; Emit still returns nil.
//
// # Subscribing
//
//	sub, err := b.Subscribe(ctx, "intent.intent.detected", handler)
//	psub, err := b.SubscribePattern(ctx, "tool.*", handler)
//	all, err := b.SubscribePattern(ctx, "*.*", handler)
//	defer b.Unsubscribe(ctx, sub)
//
// The broker is subscribed once per distinct type or pattern regardless of
// the number of local handlers, and unsubscribed when the last handler for
// it goes away.
//
// # Dispatch
//
// Messages are processed one at a time in arrival order. All handlers for a
// message run concurrently; a failing or panicking handler is logged and
// never affects the others. A message delivered through a pattern
// subscription reaches only that pattern's handlers and an exact delivery
// reaches only the exact-type handlers, so every handler sees an event once.
package bus
