// Package broker abstracts the pub/sub transport under the event bus.
//
// A Broker moves opaque payloads between topics. It supports exact topic
// subscriptions and glob pattern subscriptions with Redis semantics: a
// message published on a topic is delivered once per matching exact
// subscription (Pattern empty) and once per matching pattern (Pattern set to
// the pattern that matched).
//
// Two implementations are provided:
//   - MemoryBroker: in-process, for tests and single-node deployments
//   - RedisBroker: Redis PUBLISH / SUBSCRIBE / PSUBSCRIBE via go-redis
package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker closed")

// Message is one delivery from the broker.
type Message struct {
	// Topic the payload was published on.
	Topic string
	// Pattern is the pattern subscription that matched, or "" for an exact
	// subscription.
	Pattern string
	// Payload is the encoded event.
	Payload []byte
}

// Broker is a topic-based pub/sub transport.
type Broker interface {
	// Publish sends payload to every subscriber of topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe starts delivery for exact topics.
	Subscribe(ctx context.Context, topics ...string) error

	// Unsubscribe stops delivery for exact topics.
	Unsubscribe(ctx context.Context, topics ...string) error

	// PSubscribe starts delivery for glob patterns such as "events:*".
	PSubscribe(ctx context.Context, patterns ...string) error

	// PUnsubscribe stops delivery for glob patterns.
	PUnsubscribe(ctx context.Context, patterns ...string) error

	// Messages returns the delivery channel. It is closed by Close.
	Messages() <-chan Message

	// Ping checks the transport is reachable.
	Ping(ctx context.Context) error

	// Close releases the transport.
	Close() error
}
