package quizzly

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jonboulle/clockwork"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ============================================================================
// Realtime Configuration
// ============================================================================

// Default tunables.
const (
	DefaultHeartbeatInterval     = 30 * time.Second
	DefaultMaxReconnectAttempts  = 5
	DefaultInitialReconnectDelay = 1 * time.Second
	DefaultMaxReconnectDelay     = 30 * time.Second
	DefaultReconnectGracePeriod  = 2 * time.Second
	DefaultHandshakeTimeout      = 10 * time.Second
	DefaultEventBuffer           = 256
	DefaultOutboxLimit           = 64
)

// RealtimeConfig configures a SessionClient.
type RealtimeConfig struct {
	HeartbeatInterval     time.Duration
	MaxReconnectAttempts  int
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	ReconnectGracePeriod  time.Duration

	// HandshakeTimeout bounds the wait for the session.joined acknowledgement.
	HandshakeTimeout time.Duration

	// EventBuffer is the capacity of each EventStream channel.
	EventBuffer int

	// OutboxLimit caps commands queued while not Open.
	OutboxLimit int

	// Codec encodes outbound payloads and decodes Event payloads. It must match
	// the dialer's codec; NewSessionClient copies it from a *WSDialer when unset.
	Codec Codec

	Clock  clockwork.Clock
	Logger zerolog.Logger

	// OnStateChange is called from the controller goroutine after every
	// transition, in transition order. It must not block and must not call
	// Connect, Disconnect or Close.
	OnStateChange func(StateChange)
}

// DefaultRealtimeConfig returns the default configuration.
func DefaultRealtimeConfig() RealtimeConfig {
	c := RealtimeConfig{Logger: zerolog.Nop()}
	c.defaults()
	return c
}

func (c *RealtimeConfig) defaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.InitialReconnectDelay == 0 {
		c.InitialReconnectDelay = DefaultInitialReconnectDelay
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if c.ReconnectGracePeriod == 0 {
		c.ReconnectGracePeriod = DefaultReconnectGracePeriod
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.OutboxLimit == 0 {
		c.OutboxLimit = DefaultOutboxLimit
	}
	if c.Codec == nil {
		c.Codec = JSONCodec{}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

// Validate checks that every tunable is positive and that the initial
// reconnect delay does not exceed the maximum.
func (c RealtimeConfig) Validate() error {
	var errs []error
	positive := func(name string, v int64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("heartbeat interval", int64(c.HeartbeatInterval))
	positive("max reconnect attempts", int64(c.MaxReconnectAttempts))
	positive("initial reconnect delay", int64(c.InitialReconnectDelay))
	positive("max reconnect delay", int64(c.MaxReconnectDelay))
	positive("reconnect grace period", int64(c.ReconnectGracePeriod))
	positive("handshake timeout", int64(c.HandshakeTimeout))
	positive("event buffer", int64(c.EventBuffer))
	positive("outbox limit", int64(c.OutboxLimit))
	if c.InitialReconnectDelay > c.MaxReconnectDelay {
		errs = append(errs, fmt.Errorf("initial reconnect delay %s exceeds max reconnect delay %s",
			c.InitialReconnectDelay, c.MaxReconnectDelay))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid realtime config: %w", err)
	}
	return nil
}

// Policy returns the reconnect policy described by the configuration.
func (c RealtimeConfig) Policy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: c.InitialReconnectDelay,
		MaxDelay:     c.MaxReconnectDelay,
		MaxAttempts:  c.MaxReconnectAttempts,
		GracePeriod:  c.ReconnectGracePeriod,
	}
}

// ============================================================================
// File / Environment Configuration
// ============================================================================

// FileConfig holds the recognized options as they appear in config files and
// QUIZZLY_* environment variables. Durations are integer milliseconds.
type FileConfig struct {
	BaseURL string `toml:"base_url,omitempty" yaml:"base_url,omitempty" env:"BASE_URL"`
	Codec   string `toml:"codec,omitempty" yaml:"codec,omitempty" env:"CODEC"`

	HeartbeatIntervalMs     int `toml:"heartbeat_interval_ms,omitempty" yaml:"heartbeat_interval_ms,omitempty" env:"HEARTBEAT_INTERVAL_MS"`
	MaxReconnectAttempts    int `toml:"max_reconnect_attempts,omitempty" yaml:"max_reconnect_attempts,omitempty" env:"MAX_RECONNECT_ATTEMPTS"`
	InitialReconnectDelayMs int `toml:"initial_reconnect_delay_ms,omitempty" yaml:"initial_reconnect_delay_ms,omitempty" env:"INITIAL_RECONNECT_DELAY_MS"`
	MaxReconnectDelayMs     int `toml:"max_reconnect_delay_ms,omitempty" yaml:"max_reconnect_delay_ms,omitempty" env:"MAX_RECONNECT_DELAY_MS"`
	ReconnectGracePeriodMs  int `toml:"reconnect_grace_period_ms,omitempty" yaml:"reconnect_grace_period_ms,omitempty" env:"RECONNECT_GRACE_PERIOD_MS"`
}

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "QUIZZLY_"

// LoadFileConfig reads a TOML or YAML file, chosen by extension.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		return fc, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

// ApplyEnv overlays QUIZZLY_* environment variables onto fc.
func (fc *FileConfig) ApplyEnv() error {
	if err := env.ParseWithOptions(fc, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Realtime converts the file options into a validated RealtimeConfig. Unset
// options keep their defaults.
func (fc FileConfig) Realtime() (RealtimeConfig, error) {
	c := DefaultRealtimeConfig()
	codec, err := CodecByName(fc.Codec)
	if err != nil {
		return c, err
	}
	c.Codec = codec
	if fc.HeartbeatIntervalMs != 0 {
		c.HeartbeatInterval = ms(fc.HeartbeatIntervalMs)
	}
	if fc.MaxReconnectAttempts != 0 {
		c.MaxReconnectAttempts = fc.MaxReconnectAttempts
	}
	if fc.InitialReconnectDelayMs != 0 {
		c.InitialReconnectDelay = ms(fc.InitialReconnectDelayMs)
	}
	if fc.MaxReconnectDelayMs != 0 {
		c.MaxReconnectDelay = ms(fc.MaxReconnectDelayMs)
	}
	if fc.ReconnectGracePeriodMs != 0 {
		c.ReconnectGracePeriod = ms(fc.ReconnectGracePeriodMs)
	}
	return c, c.Validate()
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
