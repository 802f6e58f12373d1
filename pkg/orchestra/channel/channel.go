package channel

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"time"
)

// Type is the media capability of a channel.
type Type string

// Channel types.
const (
	TypeText       Type = "text"
	TypeVoice      Type = "voice"
	TypeMultimodal Type = "multimodal"
)

// Status is the lifecycle state of a session.
type Status string

// Session statuses.
const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusClosed Status = "closed"
)

// Media references an attachment.
type Media struct {
	Type     string         `json:"type"`
	URL      string         `json:"url"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Message is a message travelling over a channel in either direction.
type Message struct {
	Text     string         `json:"text,omitempty"`
	Audio    []byte         `json:"audio,omitempty"`
	Media    *Media         `json:"media,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Summary is the text recorded in channel events.
func (m Message) Summary() string {
	if m.Text != "" {
		return m.Text
	}
	return "[media]"
}

// Response is what a channel returns for an outbound message.
type Response struct {
	Message  string         `json:"message"`
	Audio    []byte         `json:"audio,omitempty"`
	Media    *Media         `json:"media,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SessionConfig describes a session to create.
type SessionConfig struct {
	TenantID  string         `json:"tenantId"`
	UserID    string         `json:"userId,omitempty"`
	ChannelID string         `json:"channelId"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate checks the required fields.
func (c SessionConfig) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("%w: tenantId is required", ErrInvalidSessionConfig)
	}
	if c.ChannelID == "" {
		return fmt.Errorf("%w: channelId is required", ErrInvalidSessionConfig)
	}
	return nil
}

// Session is a conversation on one channel.
type Session struct {
	ID        string         `json:"id"`
	Channel   string         `json:"channel"`
	ChannelID string         `json:"channelId"`
	TenantID  string         `json:"tenantId"`
	UserID    string         `json:"userId,omitempty"`
	Status    Status         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Clone returns a copy that shares no metadata with s.
func (s Session) Clone() Session {
	s.Metadata = maps.Clone(s.Metadata)
	return s
}

// Channel is a transport that can hold sessions.
type Channel interface {
	// Name is the registry key, e.g. "web-chat".
	Name() string
	Type() Type

	CreateSession(ctx context.Context, cfg SessionConfig) (Session, error)
	SendMessage(ctx context.Context, sessionID string, msg Message) (Response, error)
	ReceiveMessage(ctx context.Context, sessionID string, msg Message) error
	CloseSession(ctx context.Context, sessionID string) error
	PauseSession(ctx context.Context, sessionID string) error
	ResumeSession(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (Session, bool, error)
	HealthCheck(ctx context.Context) (bool, error)
}

// Streamer is implemented by channels that can answer in chunks.
//
// The returned sequence is lazy and finite. It stops when the consumer
// breaks out of the loop or ctx is cancelled; a cancelled stream yields
// ctx.Err() as its last element.
type Streamer interface {
	StreamMessage(ctx context.Context, sessionID string, msg Message) iter.Seq2[Response, error]
}
