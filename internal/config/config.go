package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/chatwire/internal/client"
	"github.com/danmuck/chatwire/internal/protocol/arq"
	"github.com/danmuck/chatwire/internal/server"
)

var ErrInvalidConfig = errors.New("config: invalid")

// chatd config.toml keys.
type ServerFile struct {
	Addr              string `toml:"addr"`
	AdminAddr         string `toml:"admin_addr"`
	MaxFrameBytes     uint32 `toml:"max_frame_bytes"`
	AckTimeout        string `toml:"ack_timeout"`
	MaxRetries        int    `toml:"max_retries"`
	HeartbeatInterval string `toml:"heartbeat_interval"`
	HeartbeatExpiry   string `toml:"heartbeat_expiry"`
	WriteTimeout      string `toml:"write_timeout"`
	OutboxSize        int    `toml:"outbox_size"`
}

// chatctl config.toml keys.
type ClientFile struct {
	ServerAddr         string `toml:"server_addr"`
	Username           string `toml:"username"`
	AckTimeout         string `toml:"ack_timeout"`
	MaxRetries         int    `toml:"max_retries"`
	ConnectTimeout     string `toml:"connect_timeout"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
}

// LoadServerConfig overlays the keys defined in path onto the defaults.
func LoadServerConfig(path string) (server.ServiceConfig, error) {
	cfg := server.DefaultServiceConfig()

	var raw ServerFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.ServiceConfig{}, fmt.Errorf("load server config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.Session.Limits.MaxFrameBytes = raw.MaxFrameBytes
	}
	if meta.IsDefined("max_retries") {
		cfg.Session.MaxRetries = raw.MaxRetries
	}
	if meta.IsDefined("outbox_size") {
		cfg.Session.OutboxSize = raw.OutboxSize
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"ack_timeout", raw.AckTimeout, &cfg.Session.AckTimeout},
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.Session.HeartbeatInterval},
		{"heartbeat_expiry", raw.HeartbeatExpiry, &cfg.Session.HeartbeatExpiry},
		{"write_timeout", raw.WriteTimeout, &cfg.Session.WriteTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		if err := parseDuration(d.key, d.raw, d.dst); err != nil {
			return server.ServiceConfig{}, fmt.Errorf("load server config: %w", err)
		}
	}

	if err := ValidateServerConfig(cfg); err != nil {
		return server.ServiceConfig{}, fmt.Errorf("load server config: %w", err)
	}
	return cfg, nil
}

// LoadClientConfig overlays the keys defined in path onto the defaults.
func LoadClientConfig(path string) (client.Config, error) {
	cfg := client.DefaultConfig()

	var raw ClientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return client.Config{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("server_addr") {
		cfg.Address = strings.TrimSpace(raw.ServerAddr)
	}
	if meta.IsDefined("username") {
		cfg.Username = strings.TrimSpace(raw.Username)
	}
	if meta.IsDefined("max_retries") {
		cfg.Session.MaxRetries = raw.MaxRetries
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("ack_timeout") {
		if err := parseDuration("ack_timeout", raw.AckTimeout, &cfg.Session.AckTimeout); err != nil {
			return client.Config{}, fmt.Errorf("load client config: %w", err)
		}
	}
	if meta.IsDefined("connect_timeout") {
		if err := parseDuration("connect_timeout", raw.ConnectTimeout, &cfg.Session.ConnectTimeout); err != nil {
			return client.Config{}, fmt.Errorf("load client config: %w", err)
		}
	}

	if err := ValidateClientConfig(cfg); err != nil {
		return client.Config{}, fmt.Errorf("load client config: %w", err)
	}
	return cfg, nil
}

func parseDuration(key, raw string, dst *time.Duration) error {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, raw, err)
	}
	*dst = d
	return nil
}

func ValidateServerConfig(cfg server.ServiceConfig) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("%w: addr is required", ErrInvalidConfig)
	}
	if err := validateSession(cfg.Session); err != nil {
		return err
	}
	if cfg.Session.HeartbeatExpiry <= cfg.Session.HeartbeatInterval {
		return fmt.Errorf(
			"%w: heartbeat_expiry (%s) must exceed heartbeat_interval (%s)",
			ErrInvalidConfig,
			cfg.Session.HeartbeatExpiry,
			cfg.Session.HeartbeatInterval,
		)
	}
	if cfg.Session.OutboxSize <= 0 {
		return fmt.Errorf("%w: outbox_size must be positive", ErrInvalidConfig)
	}
	if cfg.Session.Limits.MaxFrameBytes == 0 {
		return fmt.Errorf("%w: max_frame_bytes must be positive", ErrInvalidConfig)
	}
	return nil
}

func ValidateClientConfig(cfg client.Config) error {
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("%w: server_addr is required", ErrInvalidConfig)
	}
	if cfg.MaxConnectAttempts < 0 {
		return fmt.Errorf("%w: max_connect_attempts must not be negative", ErrInvalidConfig)
	}
	return validateSession(cfg.Session)
}

func validateSession(cfg arq.Config) error {
	if cfg.AckTimeout <= 0 {
		return fmt.Errorf("%w: ack_timeout must be positive", ErrInvalidConfig)
	}
	if cfg.MaxRetries < 1 {
		return fmt.Errorf("%w: max_retries must be at least 1", ErrInvalidConfig)
	}
	if cfg.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect_timeout must be positive", ErrInvalidConfig)
	}
	if cfg.WriteTimeout <= 0 {
		return fmt.Errorf("%w: write_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}
