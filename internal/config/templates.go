package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/chatwire/internal/client"
	"github.com/danmuck/chatwire/internal/server"
	"github.com/pelletier/go-toml/v2"
)

const (
	KindServer = "server"
	KindClient = "client"
)

// DefaultServerFile mirrors server.DefaultServiceConfig as file keys.
func DefaultServerFile() ServerFile {
	cfg := server.DefaultServiceConfig()
	return ServerFile{
		Addr:              cfg.ListenAddr,
		AdminAddr:         "127.0.0.1:5556",
		MaxFrameBytes:     cfg.Session.Limits.MaxFrameBytes,
		AckTimeout:        cfg.Session.AckTimeout.String(),
		MaxRetries:        cfg.Session.MaxRetries,
		HeartbeatInterval: cfg.Session.HeartbeatInterval.String(),
		HeartbeatExpiry:   cfg.Session.HeartbeatExpiry.String(),
		WriteTimeout:      cfg.Session.WriteTimeout.String(),
		OutboxSize:        cfg.Session.OutboxSize,
	}
}

// DefaultClientFile mirrors client.DefaultConfig as file keys.
func DefaultClientFile() ClientFile {
	cfg := client.DefaultConfig()
	return ClientFile{
		ServerAddr:         cfg.Address,
		Username:           "",
		AckTimeout:         cfg.Session.AckTimeout.String(),
		MaxRetries:         cfg.Session.MaxRetries,
		ConnectTimeout:     cfg.Session.ConnectTimeout.String(),
		MaxConnectAttempts: cfg.MaxConnectAttempts,
	}
}

// Template renders the default config file for kind.
func Template(kind string) (string, error) {
	var v any
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		v = DefaultServerFile()
	case KindClient:
		v = DefaultClientFile()
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	out, err := toml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("render %s config: %w", kind, err)
	}
	return string(out), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
