package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ORCHESTRA_REDIS_URL.
const EnvPrefix = "ORCHESTRA"

// Settings is the typed runtime configuration.
type Settings struct {
	// RedisURL selects the Redis broker when set (redis://host:6379/0).
	// Empty means the in-process broker.
	RedisURL string `mapstructure:"redis_url"`
	// Codec is the wire codec: "json" (default) or "cbor".
	Codec string `mapstructure:"codec"`
	// DefaultTenantID is used when an inbound message arrives for an
	// unknown session and carries no tenant of its own.
	DefaultTenantID string `mapstructure:"default_tenant_id"`
	// LogLevel is parsed by slog ("debug", "info", "warn", "error").
	LogLevel string `mapstructure:"log_level"`
	// ConnectAttempts bounds broker connection retries.
	ConnectAttempts int `mapstructure:"connect_attempts"`

	Router   RouterSettings    `mapstructure:"router"`
	History  HistorySettings   `mapstructure:"history"`
	State    StateSettings     `mapstructure:"state"`
	Channels []ChannelSettings `mapstructure:"channels"`
	Profiles []ProfileSettings `mapstructure:"profiles"`
}

// RouterSettings configures the event router.
type RouterSettings struct {
	MaxDepth int            `mapstructure:"max_depth"`
	Rules    []RuleSettings `mapstructure:"rules"`
}

// RuleSettings adds or replaces one routing rule.
type RuleSettings struct {
	Pattern string   `mapstructure:"pattern"`
	Agents  []string `mapstructure:"agents"`
}

// HistorySettings configures the audit trail.
type HistorySettings struct {
	// Backend is "none", "redis" or "sqlite".
	Backend        string        `mapstructure:"backend"`
	SQLitePath     string        `mapstructure:"sqlite_path"`
	TTL            time.Duration `mapstructure:"ttl"`
	MaxLen         int64         `mapstructure:"max_len"`
	MaxTraceEvents int           `mapstructure:"max_trace_events"`
}

// StateSettings configures session state storage.
type StateSettings struct {
	// Store is "memory" or "replicated".
	Store   string `mapstructure:"store"`
	MapName string `mapstructure:"map_name"`
}

// ChannelSettings declares an in-process channel.
type ChannelSettings struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"`
	// OptionsFile is a YAML or JSON file with channel options.
	OptionsFile string         `mapstructure:"options_file"`
	Options     map[string]any `mapstructure:"options"`
}

// Config returns the channel options: those read from OptionsFile, if set,
// overlaid with the inline Options.
func (c ChannelSettings) Config() (Config, error) {
	inline := New(c.Options)
	if c.OptionsFile == "" {
		return inline, nil
	}
	fromFile, err := LoadOptions(c.OptionsFile)
	if err != nil {
		return Config{}, fmt.Errorf("config: channel %s: %w", c.Name, err)
	}
	return Merge(fromFile, inline), nil
}

// ProfileSettings is a tenant's deployment profile used in audit exports.
type ProfileSettings struct {
	TenantID string `mapstructure:"tenant_id"`
	Market   string `mapstructure:"market"`
	Mode     string `mapstructure:"mode"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis_url", "")
	v.SetDefault("codec", "json")
	v.SetDefault("default_tenant_id", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("connect_attempts", 5)
	v.SetDefault("router.max_depth", 10)
	v.SetDefault("history.backend", "none")
	v.SetDefault("history.sqlite_path", "orchestra-history.db")
	v.SetDefault("history.ttl", "720h") // 30 days
	v.SetDefault("history.max_len", 10000)
	v.SetDefault("history.max_trace_events", 1000)
	v.SetDefault("state.store", "memory")
	v.SetDefault("state.map_name", "orchestra-session-state")
}

// LoadSettings reads the optional YAML file at path, overlays ORCHESTRA_*
// environment variables and validates the result. An empty path loads
// defaults and environment only.
func LoadSettings(path string) (Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks cross-field constraints.
func (s Settings) Validate() error {
	switch s.Codec {
	case "json", "cbor":
	default:
		return fmt.Errorf("config: codec must be json or cbor, got %q", s.Codec)
	}

	switch s.History.Backend {
	case "none", "sqlite":
	case "redis":
		if s.RedisURL == "" {
			return errors.New("config: history.backend=redis requires redis_url")
		}
	default:
		return fmt.Errorf("config: unknown history.backend %q", s.History.Backend)
	}

	switch s.State.Store {
	case "memory":
	case "replicated":
		if s.RedisURL == "" {
			return errors.New("config: state.store=replicated requires redis_url")
		}
	default:
		return fmt.Errorf("config: unknown state.store %q", s.State.Store)
	}

	if s.Router.MaxDepth < 1 {
		return errors.New("config: router.max_depth must be positive")
	}
	for _, r := range s.Router.Rules {
		if r.Pattern == "" || len(r.Agents) == 0 {
			return fmt.Errorf("config: routing rule %q needs a pattern and agents", r.Pattern)
		}
	}
	for _, c := range s.Channels {
		if c.Name == "" {
			return errors.New("config: channel name must be set")
		}
	}
	return nil
}

// SlogLevel parses LogLevel. Unknown values fall back to info.
func (s Settings) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
