package channel

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/orchestra/pkg/orchestra/config"
)

// Delivery is one message recorded by a MemoryChannel.
type Delivery struct {
	SessionID string
	Message   Message
	At        time.Time
}

// MemoryChannel is an in-process Channel. It records every delivery and
// answers outbound messages with a configurable reply.
//
// Options:
//
//	reply_prefix: string prepended to the echoed text (default "")
//	chunk_size:   words per streamed chunk (default 1)
//	chunk_delay:  pause between streamed chunks (default 0)
type MemoryChannel struct {
	name        string
	typ         Type
	replyPrefix string
	chunkSize   int
	chunkDelay  time.Duration

	healthy atomic.Bool

	mu       sync.RWMutex
	sessions map[string]Session
	sent     []Delivery
	received []Delivery
}

// NewMemoryChannel creates an in-process channel.
func NewMemoryChannel(name string, typ Type, opts config.Config) *MemoryChannel {
	if typ == "" {
		typ = TypeText
	}
	c := &MemoryChannel{
		name:        name,
		typ:         typ,
		replyPrefix: opts.String("reply_prefix", ""),
		chunkSize:   max(opts.Int("chunk_size", 1), 1),
		chunkDelay:  opts.Duration("chunk_delay", 0),
		sessions:    make(map[string]Session),
	}
	c.healthy.Store(true)
	return c
}

// FromSettings creates a MemoryChannel from a configured channel entry,
// reading its options file when one is named.
func FromSettings(s config.ChannelSettings) (*MemoryChannel, error) {
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}
	return NewMemoryChannel(s.Name, Type(s.Type), cfg), nil
}

// Name implements Channel.
func (c *MemoryChannel) Name() string { return c.name }

// Type implements Channel.
func (c *MemoryChannel) Type() Type { return c.typ }

// SetHealthy changes the HealthCheck answer.
func (c *MemoryChannel) SetHealthy(ok bool) { c.healthy.Store(ok) }

// Sent returns the outbound deliveries so far.
func (c *MemoryChannel) Sent() []Delivery {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Delivery(nil), c.sent...)
}

// Received returns the inbound deliveries so far.
func (c *MemoryChannel) Received() []Delivery {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Delivery(nil), c.received...)
}

// CreateSession implements Channel.
func (c *MemoryChannel) CreateSession(_ context.Context, cfg SessionConfig) (Session, error) {
	if err := cfg.Validate(); err != nil {
		return Session{}, err
	}
	now := time.Now()
	s := Session{
		ID:        uuid.NewString(),
		Channel:   c.name,
		ChannelID: cfg.ChannelID,
		TenantID:  cfg.TenantID,
		UserID:    cfg.UserID,
		Status:    StatusActive,
		Metadata:  cfg.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s = s.Clone()

	c.mu.Lock()
	c.sessions[s.ID] = s
	c.mu.Unlock()
	return s.Clone(), nil
}

// SendMessage implements Channel.
func (c *MemoryChannel) SendMessage(_ context.Context, sessionID string, msg Message) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[sessionID]; !ok {
		return Response{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	c.sent = append(c.sent, Delivery{SessionID: sessionID, Message: msg, At: time.Now()})
	return Response{Message: c.replyPrefix + msg.Text}, nil
}

// StreamMessage implements Streamer by splitting the reply into word chunks.
func (c *MemoryChannel) StreamMessage(ctx context.Context, sessionID string, msg Message) iter.Seq2[Response, error] {
	return func(yield func(Response, error) bool) {
		resp, err := c.SendMessage(ctx, sessionID, msg)
		if err != nil {
			yield(Response{}, err)
			return
		}

		words := strings.Fields(resp.Message)
		for i := 0; i < len(words); i += c.chunkSize {
			if err := ctx.Err(); err != nil {
				yield(Response{}, err)
				return
			}
			chunk := strings.Join(words[i:min(i+c.chunkSize, len(words))], " ")
			if !yield(Response{Message: chunk}, nil) {
				return
			}
			if c.chunkDelay > 0 {
				select {
				case <-time.After(c.chunkDelay):
				case <-ctx.Done():
					yield(Response{}, ctx.Err())
					return
				}
			}
		}
	}
}

// ReceiveMessage implements Channel.
func (c *MemoryChannel) ReceiveMessage(_ context.Context, sessionID string, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	c.received = append(c.received, Delivery{SessionID: sessionID, Message: msg, At: time.Now()})
	return nil
}

// CloseSession implements Channel.
func (c *MemoryChannel) CloseSession(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[sessionID]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	delete(c.sessions, sessionID)
	return nil
}

// PauseSession implements Channel.
func (c *MemoryChannel) PauseSession(_ context.Context, sessionID string) error {
	return c.setStatus(sessionID, StatusPaused)
}

// ResumeSession implements Channel.
func (c *MemoryChannel) ResumeSession(_ context.Context, sessionID string) error {
	return c.setStatus(sessionID, StatusActive)
}

func (c *MemoryChannel) setStatus(sessionID string, status Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.Status = status
	s.UpdatedAt = time.Now()
	c.sessions[sessionID] = s
	return nil
}

// GetSession implements Channel.
func (c *MemoryChannel) GetSession(_ context.Context, sessionID string) (Session, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[sessionID]
	return s.Clone(), ok, nil
}

// HealthCheck implements Channel.
func (c *MemoryChannel) HealthCheck(context.Context) (bool, error) {
	return c.healthy.Load(), nil
}
