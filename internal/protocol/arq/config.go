package arq

import (
	"time"

	"github.com/danmuck/chatwire/internal/protocol/frame"
)

// BackoffConfig defines dial retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines reliability and liveness constants. They are local
// configuration, never negotiated with the peer.
type Config struct {
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	AckTimeout        time.Duration
	MaxRetries        int
	HeartbeatInterval time.Duration
	HeartbeatExpiry   time.Duration
	OutboxSize        int
	Limits            frame.Limits
	Backoff           BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    10 * time.Second,
		WriteTimeout:      10 * time.Second,
		AckTimeout:        2 * time.Second,
		MaxRetries:        3,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatExpiry:   90 * time.Second,
		OutboxSize:        256,
		Limits:            frame.DefaultLimits(),
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills every unset field from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatExpiry <= 0 {
		c.HeartbeatExpiry = def.HeartbeatExpiry
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = def.OutboxSize
	}
	if c.Limits.MaxFrameBytes == 0 {
		c.Limits = def.Limits
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
