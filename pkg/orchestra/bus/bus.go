package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/orchestra/pkg/orchestra/broker"
	orcherrors "github.com/randalmurphal/orchestra/pkg/orchestra/errors"
	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
	"github.com/randalmurphal/orchestra/pkg/orchestra/observability"
)

// Config configures the bus.
type Config struct {
	// Broker is the transport. Required.
	Broker broker.Broker

	// Codec encodes events on the wire.
	// Default: event.JSONCodec
	Codec event.Codec

	// Schemas validates outgoing events.
	// Default: event.DefaultSchemas()
	Schemas *event.SchemaSet

	// ConnectRetry bounds the broker ping on Connect.
	// Default: orcherrors.DefaultRetry
	ConnectRetry orcherrors.RetryConfig

	Logger  *slog.Logger
	Metrics observability.MetricsRecorder
	Spans   observability.SpanManager
}

// Subscription is a handle for one registered handler.
type Subscription struct {
	id      uint64
	key     string // broker topic or pattern
	pattern bool
	name    string // event type or event pattern as given by the caller
	handler Handler
}

// Name returns the event type or pattern the subscription was made for.
func (s *Subscription) Name() string { return s.name }

// IsPattern reports whether this is a pattern subscription.
func (s *Subscription) IsPattern() bool { return s.pattern }

// Bus is the event bus.
type Bus struct {
	broker  broker.Broker
	codec   event.Codec
	schemas *event.SchemaSet
	retry   orcherrors.RetryConfig
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	mu         sync.RWMutex
	exact      map[string][]*Subscription
	patterns   map[string][]*Subscription
	middleware []MiddlewareFunc

	nextID    atomic.Uint64
	connected atomic.Bool
	startOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a bus on cfg.Broker.
func New(cfg Config) (*Bus, error) {
	if cfg.Broker == nil {
		return nil, errors.New("bus: broker is required")
	}
	if cfg.Codec == nil {
		cfg.Codec = event.JSONCodec{}
	}
	if cfg.Schemas == nil {
		cfg.Schemas = event.DefaultSchemas()
	}
	if cfg.ConnectRetry.MaxAttempts <= 0 {
		cfg.ConnectRetry = orcherrors.DefaultRetry
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	if cfg.Spans == nil {
		cfg.Spans = observability.NoopSpanManager{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		broker:   cfg.Broker,
		codec:    cfg.Codec,
		schemas:  cfg.Schemas,
		retry:    cfg.ConnectRetry,
		logger:   cfg.Logger.With(slog.String("component", "bus")),
		metrics:  cfg.Metrics,
		spans:    cfg.Spans,
		exact:    make(map[string][]*Subscription),
		patterns: make(map[string][]*Subscription),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Use adds middleware that applies to subsequently registered handlers.
func (b *Bus) Use(middleware MiddlewareFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, middleware)
}

// Connect pings the broker, retrying transient failures, and starts
// dispatching. On failure the bus stays usable but disconnected: emits are
// dropped until a later Connect succeeds.
func (b *Bus) Connect(ctx context.Context) error {
	res := orcherrors.WithRetryContext(ctx, b.retry, func(ctx context.Context) (struct{}, error) {
		if err := b.broker.Ping(ctx); err != nil {
			if errors.Is(err, broker.ErrClosed) {
				return struct{}{}, orcherrors.Permanent(err, "broker ping")
			}
			return struct{}{}, orcherrors.Transient(err, "broker ping")
		}
		return struct{}{}, nil
	})
	if res.Err != nil {
		b.connected.Store(false)
		b.logger.Error("broker connection failed",
			slog.Int("attempts", res.Attempts),
			slog.String("error", res.Err.Error()),
		)
		return fmt.Errorf("bus: connect: %w", res.Err)
	}

	b.connected.Store(true)
	b.startOnce.Do(func() {
		b.wg.Add(1)
		go b.run()
	})
	b.logger.Info("bus connected", slog.Int("attempts", res.Attempts))
	return nil
}

// Connected reports whether the last Connect succeeded.
func (b *Bus) Connected() bool {
	return b.connected.Load()
}

// HealthCheck reports whether the bus is connected and the broker answers.
func (b *Bus) HealthCheck(ctx context.Context) bool {
	return b.connected.Load() && b.broker.Ping(ctx) == nil
}

// Close stops dispatching and closes the broker.
func (b *Bus) Close() error {
	b.connected.Store(false)
	b.cancel()
	err := b.broker.Close()
	b.wg.Wait()
	return err
}

// Emit validates and publishes evt.
func (b *Bus) Emit(ctx context.Context, evt event.Event) error {
	evt = evt.WithDefaults(time.Now())

	ctx, span := b.spans.StartEmitSpan(ctx, evt.Type, evt.SessionID)
	err := b.emit(ctx, evt)
	b.spans.EndSpanWithError(span, err)
	return err
}

func (b *Bus) emit(ctx context.Context, evt event.Event) error {
	if err := b.schemas.Validate(evt); err != nil {
		observability.LogEmitRejected(b.logger, evt.Type, err)
		b.metrics.RecordEmit(ctx, evt.Type, observability.EmitRejected)
		return err
	}

	if !b.connected.Load() {
		observability.LogEmitDropped(b.logger, evt.Type, "not connected")
		b.metrics.RecordEmit(ctx, evt.Type, observability.EmitDropped)
		return nil
	}

	data, err := b.codec.Marshal(evt)
	if err != nil {
		b.metrics.RecordEmit(ctx, evt.Type, observability.EmitRejected)
		return fmt.Errorf("bus: encode %s: %w", evt.Type, err)
	}

	if err := b.broker.Publish(ctx, evt.Topic(), data); err != nil {
		observability.LogEmitDropped(b.logger, evt.Type, err.Error())
		b.metrics.RecordEmit(ctx, evt.Type, observability.EmitFailed)
		return nil
	}

	b.metrics.RecordEmit(ctx, evt.Type, observability.EmitPublished)
	return nil
}

// Subscribe registers handler for one exact event type.
func (b *Bus) Subscribe(ctx context.Context, eventType string, handler Handler) (*Subscription, error) {
	topic, err := event.TopicForType(eventType)
	if err != nil {
		return nil, err
	}
	return b.add(ctx, topic, eventType, false, handler)
}

// SubscribePattern registers handler for "<domain>.*" or "*.*".
func (b *Bus) SubscribePattern(ctx context.Context, pattern string, handler Handler) (*Subscription, error) {
	topic, err := event.PatternTopic(pattern)
	if err != nil {
		return nil, err
	}
	return b.add(ctx, topic, pattern, true, handler)
}

func (b *Bus) add(ctx context.Context, key, name string, pattern bool, handler Handler) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	table := b.exact
	if pattern {
		table = b.patterns
	}

	if len(table[key]) == 0 {
		var err error
		if pattern {
			err = b.broker.PSubscribe(ctx, key)
		} else {
			err = b.broker.Subscribe(ctx, key)
		}
		if err != nil {
			return nil, fmt.Errorf("bus: subscribe %s: %w", name, err)
		}
	}

	sub := &Subscription{
		id:      b.nextID.Add(1),
		key:     key,
		pattern: pattern,
		name:    name,
		handler: ChainMiddleware(handler, b.middleware...),
	}
	table[key] = append(table[key], sub)
	return sub, nil
}

// Unsubscribe removes sub. The broker subscription is dropped together with
// the last local handler for its type or pattern. Unknown or already
// removed subscriptions are ignored.
func (b *Bus) Unsubscribe(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	table := b.exact
	if sub.pattern {
		table = b.patterns
	}

	subs := table[sub.key]
	i := slices.Index(subs, sub)
	if i < 0 {
		return nil
	}
	subs = slices.Delete(subs, i, i+1)
	if len(subs) > 0 {
		table[sub.key] = subs
		return nil
	}

	delete(table, sub.key)
	if sub.pattern {
		return b.broker.PUnsubscribe(ctx, sub.key)
	}
	return b.broker.Unsubscribe(ctx, sub.key)
}

// HandlerCount returns the number of local handlers for a type or pattern.
func (b *Bus) HandlerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if event.IsPattern(name) {
		key, err := event.PatternTopic(name)
		if err != nil {
			return 0
		}
		return len(b.patterns[key])
	}
	key, err := event.TopicForType(name)
	if err != nil {
		return 0
	}
	return len(b.exact[key])
}

// run hands broker messages to one lane per broker topic or pattern until
// the broker closes. Each lane dispatches in arrival order and waits for its
// handlers before the next message, so a slow handler only holds back
// events on its own key.
func (b *Bus) run() {
	defer b.wg.Done()

	lanes := make(map[string]*lane)
	for msg := range b.broker.Messages() {
		key := msg.Pattern
		if key == "" {
			key = msg.Topic
		}
		l, ok := lanes[key]
		if !ok {
			l = newLane()
			lanes[key] = l
			b.wg.Add(1)
			go b.work(l)
		}
		l.push(msg)
	}
	for _, l := range lanes {
		l.close()
	}
}

func (b *Bus) work(l *lane) {
	defer b.wg.Done()
	for {
		batch, ok := l.take()
		if !ok {
			return
		}
		for _, msg := range batch {
			b.dispatch(msg)
		}
	}
}

// lane is an unbounded FIFO of messages for one broker key.
type lane struct {
	mu     sync.Mutex
	queue  []broker.Message
	closed bool
	ready  chan struct{}
}

func newLane() *lane {
	return &lane{ready: make(chan struct{}, 1)}
}

func (l *lane) push(msg broker.Message) {
	l.mu.Lock()
	l.queue = append(l.queue, msg)
	l.mu.Unlock()
	l.signal()
}

func (l *lane) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.signal()
}

func (l *lane) signal() {
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

// take blocks until messages are queued and returns all of them. It
// returns false once the lane is closed and drained.
func (l *lane) take() ([]broker.Message, bool) {
	for {
		l.mu.Lock()
		if len(l.queue) > 0 {
			batch := l.queue
			l.queue = nil
			l.mu.Unlock()
			return batch, true
		}
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return nil, false
		}
		<-l.ready
	}
}

func (b *Bus) dispatch(msg broker.Message) {
	evt, err := b.codec.Unmarshal(msg.Payload)
	if err != nil {
		b.logger.Warn("discarding undecodable message",
			slog.String("topic", msg.Topic),
			slog.String("error", err.Error()),
		)
		return
	}

	b.mu.RLock()
	var subs []*Subscription
	if msg.Pattern != "" {
		subs = slices.Clone(b.patterns[msg.Pattern])
	} else {
		subs = slices.Clone(b.exact[msg.Topic])
	}
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	start := time.Now()
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.invoke(sub, evt)
		}()
	}
	wg.Wait()
	b.metrics.RecordDispatch(b.ctx, evt.Type, len(subs), time.Since(start))
}

func (b *Bus) invoke(sub *Subscription, evt event.Event) {
	defer func() {
		if r := recover(); r != nil {
			observability.LogHandlerPanic(b.logger, sub.name, evt.Type, r)
			b.metrics.RecordHandlerError(b.ctx, sub.name, evt.Type)
		}
	}()
	if err := sub.handler.Handle(b.ctx, evt); err != nil {
		observability.LogHandlerError(b.logger, sub.name, evt.Type, err)
		b.metrics.RecordHandlerError(b.ctx, sub.name, evt.Type)
	}
}
