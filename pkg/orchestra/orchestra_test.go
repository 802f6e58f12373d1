package orchestra_test

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orchestra/pkg/orchestra"
	"github.com/randalmurphal/orchestra/pkg/orchestra/agent"
	"github.com/randalmurphal/orchestra/pkg/orchestra/audit"
	"github.com/randalmurphal/orchestra/pkg/orchestra/broker"
	"github.com/randalmurphal/orchestra/pkg/orchestra/bus"
	"github.com/randalmurphal/orchestra/pkg/orchestra/channel"
	"github.com/randalmurphal/orchestra/pkg/orchestra/config"
	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
	"github.com/randalmurphal/orchestra/pkg/orchestra/router"
	"github.com/randalmurphal/orchestra/pkg/orchestra/state"
)

// greeter answers inbound channel messages with a detected intent.
var greeter = agent.Func{
	AgentName: router.ConversationAgent,
	Fn: func(_ context.Context, evt event.Event) (*event.Event, error) {
		if evt.Action != event.ActionMessageReceived {
			return nil, nil
		}
		out := event.New(event.ActionIntentDetected, "", "",
			event.IntentPayload{Message: "hi", Intent: "greet", Confidence: 0.8})
		return &out, nil
	},
}

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	s, err := config.LoadSettings("")
	require.NoError(t, err)
	s.DefaultTenantID = "tenant-1"
	s.Channels = []config.ChannelSettings{{Name: "web", Type: "text"}}
	s.History.Backend = "sqlite"
	s.History.SQLitePath = filepath.Join(t.TempDir(), "history.db")
	s.ConnectAttempts = 1
	return s
}

func startOrchestrator(t *testing.T, s config.Settings, opts ...orchestra.Option) *orchestra.Orchestrator {
	t.Helper()
	ctx := context.Background()
	o, err := orchestra.New(ctx, s, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close(ctx) })
	require.NoError(t, o.Start(ctx))
	return o
}

func TestOrchestrator_InboundMessageFlow(t *testing.T) {
	o := startOrchestrator(t, testSettings(t), orchestra.WithAgents(greeter))
	ctx := context.Background()

	sess, err := o.Channels().ReceiveMessage(ctx, "web", "visitor-1", channel.Message{Text: "hello"})
	require.NoError(t, err)

	sessions := o.Channels().GetSessionsByChannel("web")
	require.Len(t, sessions, 1)
	sid := sessions[0].ID
	assert.Equal(t, sess.ID, sid)

	require.Eventually(t, func() bool {
		st, ok, err := o.State().GetState(ctx, sid)
		return err == nil && ok && st.State[state.KeyLastIntent] == "greet"
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		history, err := o.Audit().GetEventHistory(ctx, sid, audit.HistoryFilter{Domain: event.DomainIntent})
		return err == nil && len(history) == 1
	}, 2*time.Second, 10*time.Millisecond)

	history, err := o.Audit().GetEventHistory(ctx, sid, audit.HistoryFilter{Domain: event.DomainIntent})
	require.NoError(t, err)
	intent := history[0]
	assert.Equal(t, "tenant-1", intent.TenantID)
	hop, ok := intent.MetaInt(event.MetaHop)
	require.True(t, ok)
	assert.Equal(t, 1, hop)
	assert.NotEmpty(t, intent.MetaString(event.MetaCausationID))
}

func TestOrchestrator_HealthCheck(t *testing.T) {
	o := startOrchestrator(t, testSettings(t), orchestra.WithAgents(greeter))

	h := o.HealthCheck(context.Background())
	assert.True(t, h.Healthy())
	assert.Equal(t, map[string]bool{router.ConversationAgent: true}, h.Agents)
	assert.Equal(t, map[string]bool{"web": true}, h.Channels)
}

func TestOrchestrator_RulesFromSettings(t *testing.T) {
	s := testSettings(t)
	s.Router.Rules = []config.RuleSettings{{Pattern: "tool.call.failed", Agents: []string{"ops-agent"}}}

	o := startOrchestrator(t, s)
	assert.Equal(t, []string{"ops-agent"}, o.Router().Rules()["tool.call.failed"])
}

func TestOrchestrator_ProfilesOption(t *testing.T) {
	s := testSettings(t)
	s.Profiles = []config.ProfileSettings{{TenantID: "tenant-1", Market: "retail", Mode: "standard"}}

	o := startOrchestrator(t, s, orchestra.WithProfiles(audit.StaticProfiles{
		"tenant-1": {Market: "finance", Mode: "strict"},
	}))
	out, err := o.Audit().ExportAuditLog(context.Background(), "tenant-1", "none", audit.FormatJSON)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"market": "finance"`)
}

func TestNew_RejectsInvalidSettings(t *testing.T) {
	s := testSettings(t)
	s.Codec = "xml"
	_, err := orchestra.New(context.Background(), s)
	assert.Error(t, err)

	s = testSettings(t)
	s.State.Store = "replicated"
	_, err = orchestra.New(context.Background(), s)
	assert.Error(t, err)
}

func TestOrchestrator_StartTwiceThenClose(t *testing.T) {
	ctx := context.Background()
	o, err := orchestra.New(ctx, testSettings(t))
	require.NoError(t, err)
	require.NoError(t, o.Start(ctx))
	require.NoError(t, o.Start(ctx))
	require.NoError(t, o.Close(ctx))
	assert.False(t, o.Bus().Connected())
}

func TestOrchestrator_ReplayedFollowUpsAreNotRecaptured(t *testing.T) {
	media := agent.Func{
		AgentName: router.MediaAgent,
		Fn: func(_ context.Context, evt event.Event) (*event.Event, error) {
			out := event.New(event.ActionIntentDetected, "", "",
				event.IntentPayload{Message: "hi", Intent: "greet"})
			return &out, nil
		},
	}
	o := startOrchestrator(t, testSettings(t), orchestra.WithAgents(media))
	ctx := context.Background()

	replayedIntents := make(chan event.Event, 4)
	_, err := o.Bus().SubscribePattern(ctx, event.DomainIntent.Pattern(), bus.HandlerFunc(func(_ context.Context, e event.Event) error {
		if e.MetaString(event.MetaReplayID) != "" {
			replayedIntents <- e
		}
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, o.Bus().Emit(ctx, event.New(event.ActionTextReceived, "s1", "tenant-1",
		event.PerceptionPayload{Data: "hello", Format: "text"})))
	require.Eventually(t, func() bool {
		tr, ok := o.Audit().GetTrace("s1")
		return ok && len(tr.Events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	perceptionOnly := audit.HistoryFilter{Domain: event.DomainPerception}
	require.Eventually(t, func() bool {
		history, err := o.Audit().GetEventHistory(ctx, "s1", perceptionOnly)
		return err == nil && len(history) == 1
	}, 2*time.Second, 10*time.Millisecond)

	r, err := o.Audit().CreateReplaySession(ctx, "s1", "tenant-1", perceptionOnly)
	require.NoError(t, err)
	require.Len(t, r.Events, 1)
	require.NoError(t, o.Audit().Replay(ctx, r.ID, audit.ReplayOptions{Speed: 100}))

	select {
	case e := <-replayedIntents:
		assert.Equal(t, r.ID, e.MetaString(event.MetaReplayID))
	case <-time.After(2 * time.Second):
		t.Fatal("replayed perception produced no follow-up")
	}

	tr, _ := o.Audit().GetTrace("s1")
	assert.Len(t, tr.Events, 2)
}

// refusingBroker rejects pattern subscriptions to one key.
type refusingBroker struct {
	*broker.MemoryBroker
	refuse string
}

func (r *refusingBroker) PSubscribe(ctx context.Context, patterns ...string) error {
	if slices.Contains(patterns, r.refuse) {
		return errors.New("subscription refused")
	}
	return r.MemoryBroker.PSubscribe(ctx, patterns...)
}

func TestOrchestrator_StartUnwindsOnFailure(t *testing.T) {
	ctx := context.Background()
	allTopics, err := event.PatternTopic(event.AllPattern)
	require.NoError(t, err)
	b := &refusingBroker{MemoryBroker: broker.NewMemoryBroker(broker.MemoryConfig{}), refuse: allTopics}

	o, err := orchestra.New(ctx, testSettings(t), orchestra.WithBroker(b))
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close(ctx) })

	require.Error(t, o.Start(ctx))
	for _, d := range event.Domains() {
		assert.Zero(t, o.Bus().HandlerCount(d.Pattern()), "router still subscribed to %s", d.Pattern())
	}
	assert.Zero(t, o.Bus().HandlerCount(event.AllPattern))

	// A later Start retries from scratch instead of stacking subscriptions.
	b.refuse = ""
	require.NoError(t, o.Start(ctx))
	for _, d := range event.Domains() {
		// router and audit
		assert.Equal(t, 2, o.Bus().HandlerCount(d.Pattern()))
	}
}
