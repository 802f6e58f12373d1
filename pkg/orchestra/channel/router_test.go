package channel_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orchestra/pkg/orchestra/channel"
	"github.com/randalmurphal/orchestra/pkg/orchestra/config"
	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
)

// recordingEmitter validates and keeps emitted events.
type recordingEmitter struct {
	mu     sync.Mutex
	events []event.Event
}

func (e *recordingEmitter) Emit(_ context.Context, evt event.Event) error {
	if err := event.DefaultSchemas().Validate(evt); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
	return nil
}

func (e *recordingEmitter) Types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.events))
	for i, evt := range e.events {
		out[i] = evt.Type
	}
	return out
}

func (e *recordingEmitter) Last() event.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events[len(e.events)-1]
}

// spyChannel counts SendMessage calls on top of a MemoryChannel.
type spyChannel struct {
	*channel.MemoryChannel
	mu    sync.Mutex
	sends int
}

func (s *spyChannel) SendMessage(ctx context.Context, id string, msg channel.Message) (channel.Response, error) {
	s.mu.Lock()
	s.sends++
	s.mu.Unlock()
	return s.MemoryChannel.SendMessage(ctx, id, msg)
}

func (s *spyChannel) Sends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends
}

type failingHealth struct{ *channel.MemoryChannel }

func (failingHealth) HealthCheck(context.Context) (bool, error) {
	return false, errors.New("webhook unreachable")
}

func newRouter(t *testing.T, cfg channel.RouterConfig) (*channel.Router, *recordingEmitter) {
	t.Helper()
	em := &recordingEmitter{}
	r := channel.NewRouter(em, cfg)
	r.RegisterChannel(channel.NewMemoryChannel("web-chat", channel.TypeText, config.New(map[string]any{"reply_prefix": "echo: "})))
	r.RegisterChannel(channel.NewMemoryChannel("phone", channel.TypeVoice, config.New(nil)))
	return r, em
}

func sessionConfig() channel.SessionConfig {
	return channel.SessionConfig{
		TenantID:  "tenant-1",
		UserID:    "user-1",
		ChannelID: "browser-42",
		Metadata:  map[string]any{"locale": "de-DE"},
	}
}

func TestCreateSession(t *testing.T) {
	r, em := newRouter(t, channel.RouterConfig{})
	ctx := context.Background()

	sess, err := r.CreateSession(ctx, "web-chat", sessionConfig())
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, channel.StatusActive, sess.Status)
	assert.Equal(t, "web-chat", sess.Channel)

	got, ok := r.GetSession(sess.ID)
	require.True(t, ok)
	assert.Equal(t, sess.ID, got.ID)

	assert.Equal(t, []string{"channel.session.created"}, em.Types())
	p := em.Last().Payload.(event.ChannelPayload)
	assert.Equal(t, "web-chat", p.Channel)
	assert.Equal(t, "browser-42", p.ChannelID)
}

func TestCreateSession_Errors(t *testing.T) {
	r, _ := newRouter(t, channel.RouterConfig{})
	ctx := context.Background()

	_, err := r.CreateSession(ctx, "pigeon", sessionConfig())
	assert.ErrorIs(t, err, channel.ErrChannelNotFound)

	_, err = r.CreateSession(ctx, "web-chat", channel.SessionConfig{ChannelID: "x"})
	assert.ErrorIs(t, err, channel.ErrInvalidSessionConfig)
}

func TestSendMessage(t *testing.T) {
	r, em := newRouter(t, channel.RouterConfig{})
	ctx := context.Background()
	sess, err := r.CreateSession(ctx, "web-chat", sessionConfig())
	require.NoError(t, err)

	resp, err := r.SendMessage(ctx, "web-chat", sess.ID, channel.Message{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", resp.Message)

	last := em.Last()
	assert.Equal(t, "channel.message.sent", last.Type)
	assert.Equal(t, "user-1", last.UserID)
	p := last.Payload.(event.ChannelPayload)
	assert.Equal(t, "hello", p.Message)
	assert.Equal(t, event.DirectionOutbound, p.Direction)

	_, err = r.SendMessage(ctx, "web-chat", sess.ID, channel.Message{Media: &channel.Media{Type: "image", URL: "https://x/y.png"}})
	require.NoError(t, err)
	assert.Equal(t, "[media]", em.Last().Payload.(event.ChannelPayload).Message)
}

func TestSendMessage_RequiresActiveSession(t *testing.T) {
	em := &recordingEmitter{}
	r := channel.NewRouter(em, channel.RouterConfig{})
	spy := &spyChannel{MemoryChannel: channel.NewMemoryChannel("web-chat", channel.TypeText, config.New(nil))}
	r.RegisterChannel(spy)
	ctx := context.Background()

	_, err := r.SendMessage(ctx, "web-chat", "missing", channel.Message{Text: "hi"})
	assert.ErrorIs(t, err, channel.ErrSessionNotFound)

	sess, err := r.CreateSession(ctx, "web-chat", sessionConfig())
	require.NoError(t, err)
	require.NoError(t, r.PauseSession(ctx, "web-chat", sess.ID))

	_, err = r.SendMessage(ctx, "web-chat", sess.ID, channel.Message{Text: "hi"})
	assert.ErrorIs(t, err, channel.ErrSessionNotActive)
	assert.Zero(t, spy.Sends())

	require.NoError(t, r.ResumeSession(ctx, "web-chat", sess.ID))
	_, err = r.SendMessage(ctx, "web-chat", sess.ID, channel.Message{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, spy.Sends())
}

func TestPauseResume(t *testing.T) {
	r, em := newRouter(t, channel.RouterConfig{})
	ctx := context.Background()
	sess, err := r.CreateSession(ctx, "web-chat", sessionConfig())
	require.NoError(t, err)

	assert.ErrorIs(t, r.ResumeSession(ctx, "web-chat", sess.ID), channel.ErrSessionNotPaused)

	require.NoError(t, r.PauseSession(ctx, "web-chat", sess.ID))
	got, _ := r.GetSession(sess.ID)
	assert.Equal(t, channel.StatusPaused, got.Status)
	assert.ErrorIs(t, r.PauseSession(ctx, "web-chat", sess.ID), channel.ErrSessionNotActive)

	require.NoError(t, r.ResumeSession(ctx, "web-chat", sess.ID))
	got, _ = r.GetSession(sess.ID)
	assert.Equal(t, channel.StatusActive, got.Status)

	assert.Equal(t, []string{
		"channel.session.created",
		"channel.session.paused",
		"channel.session.resumed",
	}, em.Types())
}

func TestReceiveMessage_KnownSession(t *testing.T) {
	r, em := newRouter(t, channel.RouterConfig{})
	ctx := context.Background()
	sess, err := r.CreateSession(ctx, "web-chat", sessionConfig())
	require.NoError(t, err)

	got, err := r.ReceiveMessage(ctx, "web-chat", sess.ID, channel.Message{Text: "question"})
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	last := em.Last()
	assert.Equal(t, "channel.message.received", last.Type)
	assert.Equal(t, sess.ID, last.SessionID)
	assert.Equal(t, event.DirectionInbound, last.Payload.(event.ChannelPayload).Direction)

	ch, err := r.GetChannel("web-chat")
	require.NoError(t, err)
	received := ch.(*channel.MemoryChannel).Received()
	require.Len(t, received, 1)
	assert.Equal(t, "question", received[0].Message.Text)
}

func TestReceiveMessage_AutoCreatesSession(t *testing.T) {
	r, em := newRouter(t, channel.RouterConfig{})
	ctx := context.Background()

	msg := channel.Message{Text: "hi", Metadata: map[string]any{
		"tenantId":  "tenant-7",
		"userId":    "user-7",
		"channelId": "+4912345",
	}}
	created, err := r.ReceiveMessage(ctx, "phone", "provider-call-1", msg)
	require.NoError(t, err)

	sessions := r.GetSessionsByTenant("tenant-7")
	require.Len(t, sessions, 1)
	sess := sessions[0]
	assert.Equal(t, created.ID, sess.ID)
	assert.NotEqual(t, "provider-call-1", sess.ID)
	assert.Equal(t, "user-7", sess.UserID)
	assert.Equal(t, "+4912345", sess.ChannelID)
	assert.Equal(t, true, sess.Metadata[channel.MetaAutoCreated])
	assert.Equal(t, "provider-call-1", sess.Metadata[channel.MetaOriginalSessionID])

	assert.Equal(t, []string{"channel.session.created", "channel.message.received"}, em.Types())
	assert.Equal(t, sess.ID, em.Last().SessionID)
}

func TestReceiveMessage_DefaultTenant(t *testing.T) {
	r, _ := newRouter(t, channel.RouterConfig{DefaultTenantID: "fallback"})
	_, err := r.ReceiveMessage(context.Background(), "phone", "call-9", channel.Message{Text: "hi"})
	require.NoError(t, err)

	sessions := r.GetSessionsByTenant("fallback")
	require.Len(t, sessions, 1)
	assert.Equal(t, "call-9", sessions[0].ChannelID)
}

func TestReceiveMessage_NoTenantRejected(t *testing.T) {
	r, em := newRouter(t, channel.RouterConfig{})
	_, err := r.ReceiveMessage(context.Background(), "phone", "call-9", channel.Message{Text: "hi"})
	assert.ErrorIs(t, err, channel.ErrSessionNotFound)
	assert.Empty(t, em.Types())
}

func TestReceiveMessage_InboundIDReusesSession(t *testing.T) {
	r, em := newRouter(t, channel.RouterConfig{})
	ctx := context.Background()
	msg := channel.Message{Text: "hi", Metadata: map[string]any{"tenantId": "t1"}}

	first, err := r.ReceiveMessage(ctx, "phone", "provider-call-1", msg)
	require.NoError(t, err)
	for range 2 {
		again, err := r.ReceiveMessage(ctx, "phone", "provider-call-1", msg)
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
	}

	require.Len(t, r.GetSessionsByTenant("t1"), 1)
	byInbound, ok := r.GetSession("provider-call-1")
	require.True(t, ok)
	assert.Equal(t, first.ID, byInbound.ID)

	assert.Equal(t, []string{
		"channel.session.created",
		"channel.message.received",
		"channel.message.received",
		"channel.message.received",
	}, em.Types())

	// The inbound ID works for outbound calls too.
	_, err = r.SendMessage(ctx, "phone", "provider-call-1", channel.Message{Text: "reply"})
	require.NoError(t, err)
}

func TestReceiveMessage_ConcurrentInboundCreatesOneSession(t *testing.T) {
	r, em := newRouter(t, channel.RouterConfig{DefaultTenantID: "t1"})
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := r.ReceiveMessage(ctx, "phone", "provider-call-1", channel.Message{Text: "hi"})
			assert.NoError(t, err)
			ids[i] = sess.ID
		}()
	}
	wg.Wait()

	require.Len(t, r.GetSessionsByTenant("t1"), 1)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	created := 0
	for _, typ := range em.Types() {
		if typ == "channel.session.created" {
			created++
		}
	}
	assert.Equal(t, 1, created)
}

func TestReceiveMessage_ClosedInboundSessionIsForgotten(t *testing.T) {
	r, _ := newRouter(t, channel.RouterConfig{DefaultTenantID: "t1"})
	ctx := context.Background()

	first, err := r.ReceiveMessage(ctx, "phone", "call-3", channel.Message{Text: "hi"})
	require.NoError(t, err)
	require.NoError(t, r.CloseSession(ctx, "phone", "call-3"))
	_, ok := r.GetSession("call-3")
	assert.False(t, ok)

	second, err := r.ReceiveMessage(ctx, "phone", "call-3", channel.Message{Text: "back again"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestReceiveMessage_WrongChannel(t *testing.T) {
	r, _ := newRouter(t, channel.RouterConfig{})
	ctx := context.Background()
	sess, err := r.CreateSession(ctx, "web-chat", sessionConfig())
	require.NoError(t, err)

	_, err = r.ReceiveMessage(ctx, "phone", sess.ID, channel.Message{Text: "hi"})
	assert.ErrorIs(t, err, channel.ErrChannelMismatch)
}

func TestSessionOperations_WrongChannel(t *testing.T) {
	r, em := newRouter(t, channel.RouterConfig{})
	ctx := context.Background()
	sess, err := r.CreateSession(ctx, "web-chat", sessionConfig())
	require.NoError(t, err)

	_, err = r.SendMessage(ctx, "phone", sess.ID, channel.Message{Text: "hi"})
	assert.ErrorIs(t, err, channel.ErrChannelMismatch)
	for _, err := range r.StreamMessage(ctx, "phone", sess.ID, channel.Message{Text: "hi"}) {
		assert.ErrorIs(t, err, channel.ErrChannelMismatch)
	}
	assert.ErrorIs(t, r.PauseSession(ctx, "phone", sess.ID), channel.ErrChannelMismatch)
	assert.ErrorIs(t, r.CloseSession(ctx, "phone", sess.ID), channel.ErrChannelMismatch)

	got, ok := r.GetSession(sess.ID)
	require.True(t, ok)
	assert.Equal(t, channel.StatusActive, got.Status)
	assert.Equal(t, []string{"channel.session.created"}, em.Types())

	ch, err := r.GetChannel("phone")
	require.NoError(t, err)
	assert.Empty(t, ch.(*channel.MemoryChannel).Sent())
}

func TestCloseSession(t *testing.T) {
	r, em := newRouter(t, channel.RouterConfig{})
	ctx := context.Background()
	sess, err := r.CreateSession(ctx, "web-chat", sessionConfig())
	require.NoError(t, err)

	require.NoError(t, r.CloseSession(ctx, "web-chat", sess.ID))
	_, ok := r.GetSession(sess.ID)
	assert.False(t, ok)
	assert.Equal(t, "channel.session.closed", em.Last().Type)

	assert.ErrorIs(t, r.CloseSession(ctx, "web-chat", sess.ID), channel.ErrSessionNotFound)
}

func TestSwitchChannel(t *testing.T) {
	r, em := newRouter(t, channel.RouterConfig{})
	ctx := context.Background()
	old, err := r.CreateSession(ctx, "web-chat", sessionConfig())
	require.NoError(t, err)

	next, err := r.SwitchChannel(ctx, old.ID, "web-chat", "phone")
	require.NoError(t, err)

	assert.NotEqual(t, old.ID, next.ID)
	assert.Equal(t, "phone", next.Channel)
	assert.Equal(t, old.TenantID, next.TenantID)
	assert.Equal(t, old.UserID, next.UserID)
	assert.Equal(t, old.ChannelID, next.ChannelID)
	assert.Equal(t, "de-DE", next.Metadata["locale"])
	assert.Equal(t, "web-chat", next.Metadata[channel.MetaPreviousChannel])
	assert.Equal(t, old.ID, next.Metadata[channel.MetaPreviousSessionID])
	assert.Contains(t, next.Metadata, channel.MetaSwitchedAt)

	assert.Empty(t, r.GetSessionsByChannel("web-chat"))
	require.Len(t, r.GetSessionsByChannel("phone"), 1)
	_, ok := r.GetSession(old.ID)
	assert.False(t, ok)

	assert.Equal(t, []string{
		"channel.session.created",
		"channel.session.closed",
		"channel.session.created",
	}, em.Types())
	assert.Equal(t, "web-chat", em.Last().Payload.(event.ChannelPayload).SwitchedFrom)
}

func TestSwitchChannel_Errors(t *testing.T) {
	r, _ := newRouter(t, channel.RouterConfig{})
	ctx := context.Background()
	sess, err := r.CreateSession(ctx, "web-chat", sessionConfig())
	require.NoError(t, err)

	_, err = r.SwitchChannel(ctx, "missing", "web-chat", "phone")
	assert.ErrorIs(t, err, channel.ErrSessionNotFound)

	_, err = r.SwitchChannel(ctx, sess.ID, "phone", "web-chat")
	assert.ErrorIs(t, err, channel.ErrChannelMismatch)

	_, err = r.SwitchChannel(ctx, sess.ID, "web-chat", "pigeon")
	assert.ErrorIs(t, err, channel.ErrChannelNotFound)

	// The failed switches left the session in place.
	_, ok := r.GetSession(sess.ID)
	assert.True(t, ok)
}

func TestStreamMessage(t *testing.T) {
	r, em := newRouter(t, channel.RouterConfig{})
	ctx := context.Background()
	sess, err := r.CreateSession(ctx, "web-chat", sessionConfig())
	require.NoError(t, err)

	var chunks []string
	for resp, err := range r.StreamMessage(ctx, "web-chat", sess.ID, channel.Message{Text: "one two three"}) {
		require.NoError(t, err)
		chunks = append(chunks, resp.Message)
	}
	assert.Equal(t, []string{"echo:", "one", "two", "three"}, chunks)
	assert.Equal(t, "channel.message.sent", em.Last().Type)
}

func TestStreamMessage_ConsumerStopsEarly(t *testing.T) {
	r, _ := newRouter(t, channel.RouterConfig{})
	ctx := context.Background()
	sess, err := r.CreateSession(ctx, "web-chat", sessionConfig())
	require.NoError(t, err)

	n := 0
	for _, err := range r.StreamMessage(ctx, "web-chat", sess.ID, channel.Message{Text: "a b c d e"}) {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestStreamMessage_CancelledContext(t *testing.T) {
	r, _ := newRouter(t, channel.RouterConfig{})
	sess, err := r.CreateSession(context.Background(), "web-chat", sessionConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var lastErr error
	for _, err := range r.StreamMessage(ctx, "web-chat", sess.ID, channel.Message{Text: "a b"}) {
		lastErr = err
	}
	assert.ErrorIs(t, lastErr, context.Canceled)
}

func TestStreamMessage_FallsBackToSend(t *testing.T) {
	em := &recordingEmitter{}
	r := channel.NewRouter(em, channel.RouterConfig{})
	spy := &spyChannel{MemoryChannel: channel.NewMemoryChannel("sms", channel.TypeText, config.New(nil))}
	r.RegisterChannel(plainChannel{spy})
	ctx := context.Background()
	sess, err := r.CreateSession(ctx, "sms", sessionConfig())
	require.NoError(t, err)

	var got []string
	for resp, err := range r.StreamMessage(ctx, "sms", sess.ID, channel.Message{Text: "one two"}) {
		require.NoError(t, err)
		got = append(got, resp.Message)
	}
	assert.Equal(t, []string{"one two"}, got)
	assert.Equal(t, 1, spy.Sends())
}

// plainChannel hides the Streamer implementation of the wrapped channel.
type plainChannel struct{ channel.Channel }

func TestHealthCheck(t *testing.T) {
	r, _ := newRouter(t, channel.RouterConfig{})
	down := channel.NewMemoryChannel("whatsapp", channel.TypeMultimodal, config.New(nil))
	down.SetHealthy(false)
	r.RegisterChannel(down)
	r.RegisterChannel(failingHealth{channel.NewMemoryChannel("teams", channel.TypeText, config.New(nil))})

	assert.Equal(t, map[string]bool{
		"web-chat": true,
		"phone":    true,
		"whatsapp": false,
		"teams":    false,
	}, r.HealthCheck(context.Background()))
}

func TestFromSettings(t *testing.T) {
	ch, err := channel.FromSettings(config.ChannelSettings{
		Name:    "kiosk",
		Type:    "multimodal",
		Options: map[string]any{"chunk_size": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "kiosk", ch.Name())
	assert.Equal(t, channel.TypeMultimodal, ch.Type())

	ctx := context.Background()
	sess, err := ch.CreateSession(ctx, sessionConfig())
	require.NoError(t, err)

	var chunks []string
	for resp, err := range ch.StreamMessage(ctx, sess.ID, channel.Message{Text: "a b c"}) {
		require.NoError(t, err)
		chunks = append(chunks, resp.Message)
	}
	assert.Equal(t, []string{"a b", "c"}, chunks)
}

func TestFromSettings_OptionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiosk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunk_size: 2\nreply_prefix: \"kiosk: \"\n"), 0o600))

	ch, err := channel.FromSettings(config.ChannelSettings{
		Name:        "kiosk",
		Type:        "text",
		OptionsFile: path,
	})
	require.NoError(t, err)

	ctx := context.Background()
	sess, err := ch.CreateSession(ctx, sessionConfig())
	require.NoError(t, err)

	var chunks []string
	for resp, err := range ch.StreamMessage(ctx, sess.ID, channel.Message{Text: "a b"}) {
		require.NoError(t, err)
		chunks = append(chunks, resp.Message)
	}
	assert.Equal(t, []string{"kiosk: a", "b"}, chunks)

	_, err = channel.FromSettings(config.ChannelSettings{Name: "broken", OptionsFile: path + ".missing"})
	assert.Error(t, err)
}
