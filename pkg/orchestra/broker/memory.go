package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gobwas/glob"
)

// MemoryConfig configures MemoryBroker behavior.
type MemoryConfig struct {
	// BufferSize is the delivery channel buffer size.
	// Default: 1024
	BufferSize int

	// OnDrop is called when a message is dropped because the buffer is full.
	OnDrop func(msg Message)
}

// DefaultMemoryConfig provides reasonable defaults.
var DefaultMemoryConfig = MemoryConfig{
	BufferSize: 1024,
}

// MemoryBroker is an in-process Broker. Publish never blocks: when the
// delivery buffer is full the message is dropped and OnDrop is called.
type MemoryBroker struct {
	config MemoryConfig

	mu       sync.RWMutex
	topics   map[string]struct{}
	patterns map[string]glob.Glob
	out      chan Message

	available atomic.Bool
	closed    atomic.Bool
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker(config MemoryConfig) *MemoryBroker {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultMemoryConfig.BufferSize
	}
	b := &MemoryBroker{
		config:   config,
		topics:   make(map[string]struct{}),
		patterns: make(map[string]glob.Glob),
		out:      make(chan Message, config.BufferSize),
	}
	b.available.Store(true)
	return b
}

// SetAvailable simulates the transport going down or coming back. While
// unavailable, Ping and Publish fail.
func (b *MemoryBroker) SetAvailable(ok bool) {
	b.available.Store(ok)
}

// Publish implements Broker.
func (b *MemoryBroker) Publish(_ context.Context, topic string, payload []byte) error {
	if err := b.check(); err != nil {
		return err
	}

	// The read lock also guards against Close closing out mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed.Load() {
		return ErrClosed
	}

	if _, ok := b.topics[topic]; ok {
		b.deliver(Message{Topic: topic, Payload: payload})
	}
	for pattern, g := range b.patterns {
		if g.Match(topic) {
			b.deliver(Message{Topic: topic, Pattern: pattern, Payload: payload})
		}
	}
	return nil
}

func (b *MemoryBroker) deliver(msg Message) {
	select {
	case b.out <- msg:
	default:
		if b.config.OnDrop != nil {
			b.config.OnDrop(msg)
		}
	}
}

// Subscribe implements Broker.
func (b *MemoryBroker) Subscribe(_ context.Context, topics ...string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		b.topics[t] = struct{}{}
	}
	return nil
}

// Unsubscribe implements Broker.
func (b *MemoryBroker) Unsubscribe(_ context.Context, topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		delete(b.topics, t)
	}
	return nil
}

// PSubscribe implements Broker. Patterns use glob syntax with ':' as an
// ordinary character, so "events:*" matches every event topic.
func (b *MemoryBroker) PSubscribe(_ context.Context, patterns ...string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	compiled := make(map[string]glob.Glob, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return fmt.Errorf("compile pattern %q: %w", p, err)
		}
		compiled[p] = g
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for p, g := range compiled {
		b.patterns[p] = g
	}
	return nil
}

// PUnsubscribe implements Broker.
func (b *MemoryBroker) PUnsubscribe(_ context.Context, patterns ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range patterns {
		delete(b.patterns, p)
	}
	return nil
}

// Messages implements Broker.
func (b *MemoryBroker) Messages() <-chan Message {
	return b.out
}

// Ping implements Broker.
func (b *MemoryBroker) Ping(_ context.Context) error {
	return b.check()
}

func (b *MemoryBroker) check() error {
	if b.closed.Load() {
		return ErrClosed
	}
	if !b.available.Load() {
		return fmt.Errorf("memory broker unavailable")
	}
	return nil
}

// Close implements Broker.
func (b *MemoryBroker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.out)
	return nil
}
