package broker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures RedisBroker.
type RedisConfig struct {
	// BufferSize is the delivery channel buffer size.
	// Default: 1024
	BufferSize int

	// Logger receives transport diagnostics. Nil disables logging.
	Logger *slog.Logger
}

// RedisBroker is a Broker backed by Redis pub/sub. Publishing uses the
// shared client; all subscriptions share one dedicated PubSub connection.
type RedisBroker struct {
	client *redis.Client
	pubsub *redis.PubSub
	logger *slog.Logger
	out    chan Message
	done   chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewRedisBroker creates a broker on client. The PubSub connection is opened
// lazily by the first subscription.
func NewRedisBroker(client *redis.Client, config RedisConfig) *RedisBroker {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultMemoryConfig.BufferSize
	}
	return &RedisBroker{
		client: client,
		pubsub: client.Subscribe(context.Background()),
		logger: config.Logger,
		out:    make(chan Message, config.BufferSize),
		done:   make(chan struct{}),
	}
}

// Client returns the underlying Redis client.
func (b *RedisBroker) Client() *redis.Client {
	return b.client
}

// Publish implements Broker.
func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

// Subscribe implements Broker.
func (b *RedisBroker) Subscribe(ctx context.Context, topics ...string) error {
	if err := b.start(); err != nil {
		return err
	}
	return b.pubsub.Subscribe(ctx, topics...)
}

// Unsubscribe implements Broker.
func (b *RedisBroker) Unsubscribe(ctx context.Context, topics ...string) error {
	return b.pubsub.Unsubscribe(ctx, topics...)
}

// PSubscribe implements Broker.
func (b *RedisBroker) PSubscribe(ctx context.Context, patterns ...string) error {
	if err := b.start(); err != nil {
		return err
	}
	return b.pubsub.PSubscribe(ctx, patterns...)
}

// PUnsubscribe implements Broker.
func (b *RedisBroker) PUnsubscribe(ctx context.Context, patterns ...string) error {
	return b.pubsub.PUnsubscribe(ctx, patterns...)
}

// Messages implements Broker.
func (b *RedisBroker) Messages() <-chan Message {
	return b.out
}

// Ping implements Broker.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close implements Broker. It closes the subscriber connection but leaves
// the shared client open for its owner.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	err := b.pubsub.Close()
	if !b.started {
		close(b.out)
	}
	return err
}

// start launches the pump on first use.
func (b *RedisBroker) start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if !b.started {
		b.started = true
		go b.pump(b.pubsub.Channel())
	}
	return nil
}

// pump copies go-redis messages onto the broker channel until Close.
func (b *RedisBroker) pump(in <-chan *redis.Message) {
	defer close(b.out)
	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			out := Message{
				Topic:   msg.Channel,
				Pattern: msg.Pattern,
				Payload: []byte(msg.Payload),
			}
			select {
			case b.out <- out:
			case <-b.done:
				return
			}
		}
	}
}
