package event_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
)

func TestPatternTopic(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
		wantErr error
	}{
		{"perception.*", "events:perception:*", nil},
		{"channel.*", "events:channel:*", nil},
		{"*.*", "events:*", nil},
		{"billing.*", "", event.ErrUnknownDomain},
		{"perception.audio.received", "", event.ErrInvalidPattern},
		{"perception", "", event.ErrInvalidPattern},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			got, err := event.PatternTopic(tt.pattern)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseType(t *testing.T) {
	d, a, err := event.ParseType("avatar.lip-sync.updated")
	require.NoError(t, err)
	assert.Equal(t, event.DomainAvatar, d)
	assert.Equal(t, event.ActionLipSyncUpdated, a)

	_, _, err = event.ParseType("avatar.audio.received")
	assert.ErrorIs(t, err, event.ErrUnknownAction)

	_, _, err = event.ParseType("nodot")
	assert.ErrorIs(t, err, event.ErrInvalidPattern)
}

// For every legal (domain, action) pair the type is domain+"."+action, it
// parses back to the same pair, and its topic is matched by the domain's
// pattern topic.
func TestTypeTopicProperty(t *testing.T) {
	type pair struct {
		d event.Domain
		a event.Action
	}
	var pairs []pair
	for _, d := range event.Domains() {
		for _, a := range d.Actions() {
			pairs = append(pairs, pair{d, a})
		}
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("type and topic agree with domain and action", prop.ForAll(
		func(i int) bool {
			p := pairs[i]
			typ := event.TypeOf(p.d, p.a)
			if typ != string(p.d)+"."+string(p.a) {
				return false
			}
			d, a, err := event.ParseType(typ)
			if err != nil || d != p.d || a != p.a {
				return false
			}
			topic, err := event.TopicForType(typ)
			if err != nil || topic != event.Topic(p.d, p.a) {
				return false
			}
			pattern, err := event.PatternTopic(p.d.Pattern())
			if err != nil {
				return false
			}
			return strings.HasPrefix(topic, strings.TrimSuffix(pattern, "*"))
		},
		gen.IntRange(0, len(pairs)-1),
	))

	properties.TestingRun(t)
}
