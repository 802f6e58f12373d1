package channel

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
	"github.com/randalmurphal/orchestra/pkg/orchestra/registry"
)

// Emitter publishes events. *bus.Bus implements it.
type Emitter interface {
	Emit(ctx context.Context, evt event.Event) error
}

// Metadata keys written by the router.
const (
	MetaAutoCreated       = "autoCreated"
	MetaOriginalSessionID = "originalSessionId"
	MetaPreviousChannel   = "previousChannel"
	MetaPreviousSessionID = "previousSessionId"
	MetaSwitchedAt        = "switchedAt"
)

// RouterConfig configures the router.
type RouterConfig struct {
	// DefaultTenantID is used when an inbound message arrives for an unknown
	// session and carries no tenantId in its metadata.
	DefaultTenantID string

	Logger *slog.Logger
}

// Router fronts every registered channel with one session table.
type Router struct {
	emitter       Emitter
	defaultTenant string
	logger        *slog.Logger

	channels *registry.Registry[string, Channel]
	sessions *registry.Registry[string, Session]
	// aliases maps an inbound session ID to the session created for it.
	aliases *registry.Registry[string, string]

	// mu serializes lifecycle changes: create, close, pause, resume, switch
	// and inbound session resolution. SendMessage and StreamMessage read the
	// session status without it, so a send may race a concurrent pause.
	mu sync.Mutex
}

// NewRouter creates a router that emits on e.
func NewRouter(e Emitter, cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		emitter:       e,
		defaultTenant: cfg.DefaultTenantID,
		logger:        cfg.Logger.With(slog.String("component", "channel_router")),
		channels:      registry.New[string, Channel](),
		sessions:      registry.New[string, Session](),
		aliases:       registry.New[string, string](),
	}
}

// RegisterChannel adds ch, replacing a channel with the same name.
func (r *Router) RegisterChannel(ch Channel) {
	if r.channels.Register(ch.Name(), ch) {
		r.logger.Warn("channel replaced", slog.String("channel", ch.Name()))
	}
	r.logger.Info("channel registered",
		slog.String("channel", ch.Name()),
		slog.String("type", string(ch.Type())),
	)
}

// GetChannel returns the named channel.
func (r *Router) GetChannel(name string) (Channel, error) {
	ch, ok := r.channels.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, name)
	}
	return ch, nil
}

// ListChannels returns the channels in registration order.
func (r *Router) ListChannels() []Channel {
	return r.channels.Values()
}

// GetSession returns a copy of the session record. sessionID may also be
// the inbound ID a session was auto-created for.
func (r *Router) GetSession(sessionID string) (Session, bool) {
	s, ok := r.lookup(sessionID)
	if !ok {
		return Session{}, false
	}
	return s.Clone(), true
}

func (r *Router) lookup(sessionID string) (Session, bool) {
	if s, ok := r.sessions.Get(sessionID); ok {
		return s, true
	}
	if id, ok := r.aliases.Get(sessionID); ok {
		return r.sessions.Get(id)
	}
	return Session{}, false
}

// owned returns the session if it exists and lives on channelName.
func (r *Router) owned(channelName, sessionID string) (Session, error) {
	sess, ok := r.lookup(sessionID)
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if sess.Channel != channelName {
		return Session{}, fmt.Errorf("%w: %s is on %s, not %s", ErrChannelMismatch, sessionID, sess.Channel, channelName)
	}
	return sess, nil
}

// GetSessionsByTenant returns every session of the tenant.
func (r *Router) GetSessionsByTenant(tenantID string) []Session {
	return r.filter(func(s Session) bool { return s.TenantID == tenantID })
}

// GetSessionsByChannel returns every session on the named channel.
func (r *Router) GetSessionsByChannel(name string) []Session {
	return r.filter(func(s Session) bool { return s.Channel == name })
}

func (r *Router) filter(keep func(Session) bool) []Session {
	found := r.sessions.Filter(func(_ string, s Session) bool { return keep(s) })
	out := make([]Session, len(found))
	for i, s := range found {
		out[i] = s.Clone()
	}
	return out
}

// CreateSession opens a session on the named channel and records it.
func (r *Router) CreateSession(ctx context.Context, channelName string, cfg SessionConfig) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked(ctx, channelName, cfg, "")
}

func (r *Router) createLocked(ctx context.Context, channelName string, cfg SessionConfig, switchedFrom string) (Session, error) {
	ch, err := r.GetChannel(channelName)
	if err != nil {
		return Session{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Session{}, err
	}

	sess, err := ch.CreateSession(ctx, cfg)
	if err != nil {
		return Session{}, fmt.Errorf("channel %s: create session: %w", channelName, err)
	}
	r.sessions.Register(sess.ID, sess.Clone())

	r.emit(ctx, event.ActionSessionCreated, sess, event.ChannelPayload{
		Channel:      channelName,
		ChannelID:    sess.ChannelID,
		SwitchedFrom: switchedFrom,
	})
	r.logger.Debug("session created",
		slog.String("session_id", sess.ID),
		slog.String("channel", channelName),
	)
	return sess.Clone(), nil
}

// SendMessage delivers an outbound message. The session must be active;
// otherwise the channel is not called.
func (r *Router) SendMessage(ctx context.Context, channelName, sessionID string, msg Message) (Response, error) {
	ch, sess, err := r.activeSession(channelName, sessionID)
	if err != nil {
		return Response{}, err
	}

	resp, err := ch.SendMessage(ctx, sess.ID, msg)
	if err != nil {
		return Response{}, fmt.Errorf("channel %s: send: %w", channelName, err)
	}
	r.emitMessage(ctx, event.ActionMessageSent, sess, msg, event.DirectionOutbound)
	return resp, nil
}

// StreamMessage delivers an outbound message and yields the answer in
// chunks. Channels that do not implement Streamer produce a single chunk
// from SendMessage. The message.sent event is emitted once the stream ends
// without error.
func (r *Router) StreamMessage(ctx context.Context, channelName, sessionID string, msg Message) iter.Seq2[Response, error] {
	return func(yield func(Response, error) bool) {
		ch, sess, err := r.activeSession(channelName, sessionID)
		if err != nil {
			yield(Response{}, err)
			return
		}

		streamer, ok := ch.(Streamer)
		if !ok {
			resp, err := ch.SendMessage(ctx, sess.ID, msg)
			if err != nil {
				yield(Response{}, fmt.Errorf("channel %s: send: %w", channelName, err))
				return
			}
			r.emitMessage(ctx, event.ActionMessageSent, sess, msg, event.DirectionOutbound)
			yield(resp, nil)
			return
		}

		for resp, err := range streamer.StreamMessage(ctx, sess.ID, msg) {
			if err != nil {
				yield(Response{}, fmt.Errorf("channel %s: stream: %w", channelName, err))
				return
			}
			if !yield(resp, nil) {
				break
			}
		}
		r.emitMessage(ctx, event.ActionMessageSent, sess, msg, event.DirectionOutbound)
	}
}

func (r *Router) activeSession(channelName, sessionID string) (Channel, Session, error) {
	ch, err := r.GetChannel(channelName)
	if err != nil {
		return nil, Session{}, err
	}
	sess, err := r.owned(channelName, sessionID)
	if err != nil {
		return nil, Session{}, err
	}
	if sess.Status != StatusActive {
		return nil, Session{}, fmt.Errorf("%w: %s is %s", ErrSessionNotActive, sessionID, sess.Status)
	}
	return ch, sess, nil
}

// ReceiveMessage handles an inbound message and returns the session it was
// recorded under. When sessionID is unknown a new session is created on the
// channel, taking tenantId, userId and channelId from the message metadata
// and falling back to the default tenant. The new session gets its own ID;
// sessionID stays an alias for it, so later messages with the same inbound ID
// land in the same session. With no tenant available the message is rejected
// with ErrSessionNotFound.
func (r *Router) ReceiveMessage(ctx context.Context, channelName, sessionID string, msg Message) (Session, error) {
	ch, err := r.GetChannel(channelName)
	if err != nil {
		return Session{}, err
	}

	sess, err := r.resolveInbound(ctx, channelName, sessionID, msg)
	if err != nil {
		return Session{}, err
	}

	if err := ch.ReceiveMessage(ctx, sess.ID, msg); err != nil {
		return Session{}, fmt.Errorf("channel %s: receive: %w", channelName, err)
	}
	r.emitMessage(ctx, event.ActionMessageReceived, sess, msg, event.DirectionInbound)
	return sess.Clone(), nil
}

func (r *Router) resolveInbound(ctx context.Context, channelName, sessionID string, msg Message) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lookup(sessionID); ok {
		return r.owned(channelName, sessionID)
	}

	md := msg.Metadata
	tenantID := metaString(md, "tenantId")
	if tenantID == "" {
		tenantID = r.defaultTenant
	}
	if tenantID == "" {
		return Session{}, fmt.Errorf("%w: %s (no tenant to create it for)", ErrSessionNotFound, sessionID)
	}
	channelID := metaString(md, "channelId")
	if channelID == "" {
		channelID = sessionID
	}

	meta := maps.Clone(md)
	if meta == nil {
		meta = make(map[string]any, 2)
	}
	meta[MetaAutoCreated] = true
	meta[MetaOriginalSessionID] = sessionID

	r.logger.Debug("creating session for inbound message",
		slog.String("session_id", sessionID),
		slog.String("channel", channelName),
		slog.String("tenant_id", tenantID),
	)

	sess, err := r.createLocked(ctx, channelName, SessionConfig{
		TenantID:  tenantID,
		UserID:    metaString(md, "userId"),
		ChannelID: channelID,
		Metadata:  meta,
	}, "")
	if err != nil {
		return Session{}, err
	}
	if sess.ID != sessionID {
		r.aliases.Register(sessionID, sess.ID)
	}
	return sess, nil
}

// CloseSession closes and forgets the session.
func (r *Router) CloseSession(ctx context.Context, channelName, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked(ctx, channelName, sessionID)
}

func (r *Router) closeLocked(ctx context.Context, channelName, sessionID string) error {
	ch, err := r.GetChannel(channelName)
	if err != nil {
		return err
	}
	sess, err := r.owned(channelName, sessionID)
	if err != nil {
		return err
	}

	if err := ch.CloseSession(ctx, sess.ID); err != nil {
		return fmt.Errorf("channel %s: close session: %w", channelName, err)
	}
	r.sessions.Delete(sess.ID)
	if inbound := metaString(sess.Metadata, MetaOriginalSessionID); inbound != "" {
		if id, ok := r.aliases.Get(inbound); ok && id == sess.ID {
			r.aliases.Delete(inbound)
		}
	}

	r.emit(ctx, event.ActionSessionClosed, sess, event.ChannelPayload{
		Channel:   channelName,
		ChannelID: sess.ChannelID,
	})
	r.logger.Debug("session closed",
		slog.String("session_id", sess.ID),
		slog.String("channel", channelName),
	)
	return nil
}

// PauseSession moves an active session to paused.
func (r *Router) PauseSession(ctx context.Context, channelName, sessionID string) error {
	return r.transition(ctx, channelName, sessionID, StatusActive, StatusPaused)
}

// ResumeSession moves a paused session back to active.
func (r *Router) ResumeSession(ctx context.Context, channelName, sessionID string) error {
	return r.transition(ctx, channelName, sessionID, StatusPaused, StatusActive)
}

func (r *Router) transition(ctx context.Context, channelName, sessionID string, from, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.GetChannel(channelName)
	if err != nil {
		return err
	}
	sess, err := r.owned(channelName, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != from {
		if from == StatusActive {
			return fmt.Errorf("%w: %s is %s", ErrSessionNotActive, sessionID, sess.Status)
		}
		return fmt.Errorf("%w: %s is %s", ErrSessionNotPaused, sessionID, sess.Status)
	}

	action := event.ActionSessionPaused
	if to == StatusPaused {
		err = ch.PauseSession(ctx, sess.ID)
	} else {
		action = event.ActionSessionResumed
		err = ch.ResumeSession(ctx, sess.ID)
	}
	if err != nil {
		return fmt.Errorf("channel %s: %s: %w", channelName, action, err)
	}

	sess, _ = r.sessions.Update(sess.ID, func(s Session) Session {
		s.Status = to
		s.UpdatedAt = time.Now()
		return s
	})
	r.emit(ctx, action, sess, event.ChannelPayload{
		Channel:   channelName,
		ChannelID: sess.ChannelID,
	})
	return nil
}

// SwitchChannel moves a conversation to another channel. The session on
// fromChannel is closed and a new session, with a new ID, is created on
// toChannel carrying tenant, user, channel ID and metadata forward.
func (r *Router) SwitchChannel(ctx context.Context, sessionID, fromChannel, toChannel string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.owned(fromChannel, sessionID)
	if err != nil {
		return Session{}, err
	}
	// Resolve the target first so a bad name leaves the session untouched.
	if _, err := r.GetChannel(toChannel); err != nil {
		return Session{}, err
	}

	if err := r.closeLocked(ctx, fromChannel, sessionID); err != nil {
		return Session{}, err
	}

	meta := maps.Clone(sess.Metadata)
	if meta == nil {
		meta = make(map[string]any, 3)
	}
	meta[MetaPreviousChannel] = fromChannel
	meta[MetaPreviousSessionID] = sess.ID
	meta[MetaSwitchedAt] = time.Now().UnixMilli()

	next, err := r.createLocked(ctx, toChannel, SessionConfig{
		TenantID:  sess.TenantID,
		UserID:    sess.UserID,
		ChannelID: sess.ChannelID,
		Metadata:  meta,
	}, fromChannel)
	if err != nil {
		return Session{}, err
	}

	r.logger.Info("session switched channel",
		slog.String("from", fromChannel),
		slog.String("to", toChannel),
		slog.String("previous_session_id", sess.ID),
		slog.String("session_id", next.ID),
	)
	return next, nil
}

// HealthCheck asks every channel for its health. Errors and panics count as
// unhealthy.
func (r *Router) HealthCheck(ctx context.Context) map[string]bool {
	channels := r.channels.Values()
	status := make(map[string]bool, len(channels))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := r.check(ctx, ch)
			mu.Lock()
			status[ch.Name()] = ok
			mu.Unlock()
		}()
	}
	wg.Wait()
	return status
}

func (r *Router) check(ctx context.Context, ch Channel) (healthy bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("channel health check panicked",
				slog.String("channel", ch.Name()),
				slog.Any("panic", rec),
			)
			healthy = false
		}
	}()
	ok, err := ch.HealthCheck(ctx)
	if err != nil {
		r.logger.Error("channel health check failed",
			slog.String("channel", ch.Name()),
			slog.String("error", err.Error()),
		)
		return false
	}
	return ok
}

func (r *Router) emitMessage(ctx context.Context, action event.Action, sess Session, msg Message, dir event.Direction) {
	r.emit(ctx, action, sess, event.ChannelPayload{
		Channel:   sess.Channel,
		ChannelID: sess.ChannelID,
		Message:   msg.Summary(),
		Direction: dir,
	})
}

// emit publishes a channel event for sess. The bus is best effort, so a
// rejected event is logged and the channel operation still succeeds.
func (r *Router) emit(ctx context.Context, action event.Action, sess Session, payload event.ChannelPayload) {
	evt := event.New(action, sess.ID, sess.TenantID, payload, event.WithUserID(sess.UserID))
	if err := r.emitter.Emit(ctx, evt); err != nil {
		r.logger.Warn("channel event rejected",
			slog.String("event_type", evt.Type),
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
	}
}

func metaString(md map[string]any, key string) string {
	s, _ := md[key].(string)
	return s
}
