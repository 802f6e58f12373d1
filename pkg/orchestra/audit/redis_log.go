package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
)

// StreamKeyPrefix prefixes the per-session history streams.
const StreamKeyPrefix = "events:history:"

// RedisLogConfig configures RedisStreamLog.
type RedisLogConfig struct {
	// TTL is refreshed on every append.
	// Default: 30 days
	TTL time.Duration

	// MaxLen approximately caps each stream.
	// Default: 10000
	MaxLen int64

	// Codec encodes stream entries.
	// Default: event.JSONCodec
	Codec event.Codec
}

// DefaultRedisLogConfig provides reasonable defaults.
var DefaultRedisLogConfig = RedisLogConfig{
	TTL:    30 * 24 * time.Hour,
	MaxLen: 10000,
}

// RedisStreamLog keeps history in one Redis stream per session.
type RedisStreamLog struct {
	client *redis.Client
	ttl    time.Duration
	maxLen int64
	codec  event.Codec
}

// NewRedisStreamLog creates a log on client. The client is owned by the
// caller and not closed by Close.
func NewRedisStreamLog(client *redis.Client, cfg RedisLogConfig) *RedisStreamLog {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRedisLogConfig.TTL
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = DefaultRedisLogConfig.MaxLen
	}
	if cfg.Codec == nil {
		cfg.Codec = event.JSONCodec{}
	}
	return &RedisStreamLog{client: client, ttl: cfg.TTL, maxLen: cfg.MaxLen, codec: cfg.Codec}
}

// Backend implements Log.
func (l *RedisStreamLog) Backend() string { return "redis" }

// Append implements Log. XADD with MAXLEN ~ and EXPIRE go out in one
// pipeline.
func (l *RedisStreamLog) Append(ctx context.Context, evt event.Event) error {
	data, err := l.codec.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s: %w", evt.ID, err)
	}
	key := StreamKeyPrefix + evt.SessionID
	_, err = l.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.XAdd(ctx, &redis.XAddArgs{
			Stream: key,
			MaxLen: l.maxLen,
			Approx: true,
			Values: map[string]any{"event": data},
		})
		p.Expire(ctx, key, l.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append to %s: %w", key, err)
	}
	return nil
}

// Read implements Log.
func (l *RedisStreamLog) Read(ctx context.Context, sessionID string) ([]event.Event, error) {
	key := StreamKeyPrefix + sessionID
	msgs, err := l.client.XRangeN(ctx, key, "-", "+", l.maxLen).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	events := make([]event.Event, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["event"].(string)
		if !ok {
			continue
		}
		evt, err := l.codec.Unmarshal([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decode %s entry %s: %w", key, msg.ID, err)
		}
		events = append(events, evt)
	}
	return events, nil
}

// Close implements Log.
func (l *RedisStreamLog) Close() error { return nil }
