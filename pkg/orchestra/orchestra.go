package orchestra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/rmap"

	"github.com/randalmurphal/orchestra/pkg/orchestra/agent"
	"github.com/randalmurphal/orchestra/pkg/orchestra/audit"
	"github.com/randalmurphal/orchestra/pkg/orchestra/broker"
	"github.com/randalmurphal/orchestra/pkg/orchestra/bus"
	"github.com/randalmurphal/orchestra/pkg/orchestra/channel"
	"github.com/randalmurphal/orchestra/pkg/orchestra/config"
	orcherrors "github.com/randalmurphal/orchestra/pkg/orchestra/errors"
	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
	"github.com/randalmurphal/orchestra/pkg/orchestra/observability"
	"github.com/randalmurphal/orchestra/pkg/orchestra/router"
	"github.com/randalmurphal/orchestra/pkg/orchestra/state"
)

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	agents    []agent.Agent
	channels  []channel.Channel
	profiles  audit.ProfileProvider
	redis     *redis.Client
	broker    broker.Broker
	telemetry bool
}

// WithLogger sets the logger shared by every component.
// Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithAgents registers agents in the given order. Order matters for
// broadcast routing.
func WithAgents(agents ...agent.Agent) Option {
	return func(o *options) {
		o.agents = append(o.agents, agents...)
	}
}

// WithChannels registers channels in addition to those in Settings.
func WithChannels(channels ...channel.Channel) Option {
	return func(o *options) {
		o.channels = append(o.channels, channels...)
	}
}

// WithProfiles overrides the tenant profiles from Settings.
func WithProfiles(p audit.ProfileProvider) Option {
	return func(o *options) {
		o.profiles = p
	}
}

// WithRedisClient supplies the Redis client instead of dialing
// Settings.RedisURL. The caller keeps ownership of client.
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) {
		o.redis = client
	}
}

// WithBroker supplies the event transport instead of the in-process or
// Redis broker. The Orchestrator closes it on Close.
func WithBroker(b broker.Broker) Option {
	return func(o *options) {
		o.broker = b
	}
}

// WithTelemetry records OpenTelemetry metrics and spans through the global
// providers.
func WithTelemetry() Option {
	return func(o *options) {
		o.telemetry = true
	}
}

// Orchestrator owns the bus and every service attached to it.
type Orchestrator struct {
	settings config.Settings
	logger   *slog.Logger

	redis     *redis.Client
	ownsRedis bool
	stateMap  *rmap.Map

	bus      *bus.Bus
	agents   *agent.Runtime
	router   *router.Router
	channels *channel.Router
	state    *state.Service
	audit    *audit.Service

	started bool
}

// New builds the stack described by settings. Nothing is connected until
// Start.
func New(ctx context.Context, settings config.Settings, opts ...Option) (_ *Orchestrator, err error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	cfg := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		metrics observability.MetricsRecorder = observability.NoopMetrics{}
		spans   observability.SpanManager     = observability.NoopSpanManager{}
	)
	if cfg.telemetry {
		metrics = observability.NewMetricsRecorder()
		spans = observability.NewSpanManager()
	}

	o := &Orchestrator{settings: settings, logger: cfg.logger}
	defer func() {
		if err != nil {
			o.release()
		}
	}()

	codec, err := event.CodecByName(settings.Codec)
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.redis != nil:
		o.redis = cfg.redis
	case settings.RedisURL != "":
		redisOpts, err := redis.ParseURL(settings.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("orchestra: redis_url: %w", err)
		}
		o.redis = redis.NewClient(redisOpts)
		o.ownsRedis = true
	}

	b := cfg.broker
	if b == nil && o.redis != nil {
		b = broker.NewRedisBroker(o.redis, broker.RedisConfig{Logger: cfg.logger})
	}
	if b == nil {
		b = broker.NewMemoryBroker(broker.MemoryConfig{
			OnDrop: func(msg broker.Message) {
				observability.LogEmitDropped(cfg.logger, msg.Topic, "delivery buffer full")
			},
		})
	}

	retry := orcherrors.DefaultRetry
	if settings.ConnectAttempts > 0 {
		retry.MaxAttempts = settings.ConnectAttempts
	}
	o.bus, err = bus.New(bus.Config{
		Broker:       b,
		Codec:        codec,
		ConnectRetry: retry,
		Logger:       cfg.logger,
		Metrics:      metrics,
		Spans:        spans,
	})
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	o.agents = agent.NewRuntime(agent.RuntimeConfig{Logger: cfg.logger, Metrics: metrics, Spans: spans})
	for _, a := range cfg.agents {
		o.agents.Register(a)
	}

	o.router = router.New(o.bus, o.agents, router.Config{
		MaxDepth: settings.Router.MaxDepth,
		Logger:   cfg.logger,
	})
	if err := o.router.ApplyRules(settings.Router.Rules); err != nil {
		return nil, err
	}

	o.channels = channel.NewRouter(o.bus, channel.RouterConfig{
		DefaultTenantID: settings.DefaultTenantID,
		Logger:          cfg.logger,
	})
	for _, cs := range settings.Channels {
		ch, err := channel.FromSettings(cs)
		if err != nil {
			return nil, fmt.Errorf("orchestra: %w", err)
		}
		o.channels.RegisterChannel(ch)
	}
	for _, ch := range cfg.channels {
		o.channels.RegisterChannel(ch)
	}

	var store state.Store
	switch settings.State.Store {
	case "replicated":
		if o.redis == nil {
			return nil, errors.New("orchestra: replicated state requires redis")
		}
		o.stateMap, err = rmap.Join(ctx, settings.State.MapName, o.redis)
		if err != nil {
			return nil, fmt.Errorf("orchestra: join state map %s: %w", settings.State.MapName, err)
		}
		store = state.NewReplicatedStore(o.stateMap)
	default:
		store = state.NewMemoryStore()
	}
	o.state = state.NewService(state.Config{Store: store, Logger: cfg.logger})

	var log audit.Log
	switch settings.History.Backend {
	case "redis":
		if o.redis == nil {
			return nil, errors.New("orchestra: redis history requires redis")
		}
		log = audit.NewRedisStreamLog(o.redis, audit.RedisLogConfig{
			TTL:    settings.History.TTL,
			MaxLen: settings.History.MaxLen,
			Codec:  codec,
		})
	case "sqlite":
		log, err = audit.NewSQLiteLog(settings.History.SQLitePath, audit.SQLiteLogConfig{
			TTL:    settings.History.TTL,
			MaxLen: settings.History.MaxLen,
			Codec:  codec,
		})
		if err != nil {
			return nil, fmt.Errorf("orchestra: open history: %w", err)
		}
	}

	profiles := cfg.profiles
	if profiles == nil {
		profiles = audit.ProfilesFromSettings(settings.Profiles)
	}
	o.audit = audit.NewService(o.bus, audit.Config{
		Log:            log,
		MaxTraceEvents: settings.History.MaxTraceEvents,
		Profiles:       profiles,
		Logger:         cfg.logger,
		Metrics:        metrics,
		Spans:          spans,
	})

	return o, nil
}

// Start connects the bus and subscribes the router, state and audit
// services. When a service fails to subscribe, the ones already started are
// stopped again so a later Start begins from scratch.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.started {
		return nil
	}
	if err := o.bus.Connect(ctx); err != nil {
		return err
	}
	if err := o.router.Start(ctx); err != nil {
		return err
	}
	if err := o.state.Start(ctx, o.bus); err != nil {
		o.router.Stop(ctx)
		return err
	}
	if err := o.audit.Start(ctx); err != nil {
		if stopErr := o.state.Stop(ctx, o.bus); stopErr != nil {
			o.logger.Warn("state unsubscribe failed", slog.String("error", stopErr.Error()))
		}
		o.router.Stop(ctx)
		return err
	}
	o.started = true
	o.logger.Info("orchestra started",
		slog.Int("agents", len(o.agents.List())),
		slog.Int("channels", len(o.channels.ListChannels())),
		slog.String("history", o.settings.History.Backend),
		slog.String("state", o.settings.State.Store),
	)
	return nil
}

// Close unsubscribes every service and releases the bus, the durable log and
// the Redis client when the Orchestrator dialed it.
func (o *Orchestrator) Close(ctx context.Context) error {
	var errs []error
	if o.started {
		o.audit.Stop(ctx)
		if err := o.state.Stop(ctx, o.bus); err != nil {
			errs = append(errs, err)
		}
		o.router.Stop(ctx)
		o.started = false
	}
	errs = append(errs, o.release())
	return errors.Join(errs...)
}

func (o *Orchestrator) release() error {
	var errs []error
	if o.audit != nil {
		if err := o.audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
	}
	if o.stateMap != nil {
		o.stateMap.Close()
	}
	if o.bus != nil {
		if err := o.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bus: %w", err))
		}
	}
	if o.ownsRedis && o.redis != nil {
		if err := o.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Health is a point-in-time view of the stack.
type Health struct {
	Bus      bool            `json:"bus"`
	Agents   map[string]bool `json:"agents"`
	Channels map[string]bool `json:"channels"`
}

// Healthy reports whether the bus and every agent and channel are healthy.
func (h Health) Healthy() bool {
	if !h.Bus {
		return false
	}
	for _, ok := range h.Agents {
		if !ok {
			return false
		}
	}
	for _, ok := range h.Channels {
		if !ok {
			return false
		}
	}
	return true
}

// HealthCheck probes the bus, agents and channels.
func (o *Orchestrator) HealthCheck(ctx context.Context) Health {
	return Health{
		Bus:      o.bus.HealthCheck(ctx),
		Agents:   o.agents.HealthCheck(ctx),
		Channels: o.channels.HealthCheck(ctx),
	}
}

// Emit publishes evt on the bus.
func (o *Orchestrator) Emit(ctx context.Context, evt event.Event) error {
	return o.bus.Emit(ctx, evt)
}

// Bus returns the event bus.
func (o *Orchestrator) Bus() *bus.Bus { return o.bus }

// Agents returns the agent runtime.
func (o *Orchestrator) Agents() *agent.Runtime { return o.agents }

// Router returns the event router.
func (o *Orchestrator) Router() *router.Router { return o.router }

// Channels returns the channel router.
func (o *Orchestrator) Channels() *channel.Router { return o.channels }

// State returns the session state service.
func (o *Orchestrator) State() *state.Service { return o.state }

// Audit returns the trace and replay service.
func (o *Orchestrator) Audit() *audit.Service { return o.audit }
