package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/chatwire/internal/protocol/arq"
	"github.com/danmuck/chatwire/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadServerConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, `
addr = "127.0.0.1:6000"
admin_addr = "127.0.0.1:6001"
ack_timeout = "500ms"
max_retries = 5
heartbeat_interval = "10s"
heartbeat_expiry = "45s"
`)
	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6000", cfg.ListenAddr)
	assert.Equal(t, "127.0.0.1:6001", cfg.AdminListenAddr)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.AckTimeout)
	assert.Equal(t, 5, cfg.Session.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Session.HeartbeatInterval)
	assert.Equal(t, 45*time.Second, cfg.Session.HeartbeatExpiry)

	def := arq.DefaultConfig()
	assert.Equal(t, def.WriteTimeout, cfg.Session.WriteTimeout)
	assert.Equal(t, def.OutboxSize, cfg.Session.OutboxSize)
	assert.Equal(t, def.Limits, cfg.Session.Limits)
}

func TestLoadServerConfigEmptyFileKeepsDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadServerConfig(writeFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, ":5555", cfg.ListenAddr)
	assert.Empty(t, cfg.AdminListenAddr)
	assert.Equal(t, 2*time.Second, cfg.Session.AckTimeout)
	assert.Equal(t, 3, cfg.Session.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Session.HeartbeatInterval)
	assert.Equal(t, 90*time.Second, cfg.Session.HeartbeatExpiry)
}

func TestLoadServerConfigRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"bad duration":       `ack_timeout = "soon"`,
		"expiry <= interval": `heartbeat_interval = "30s"` + "\n" + `heartbeat_expiry = "30s"`,
		"zero retries":       `max_retries = 0`,
		"empty addr":         `addr = ""`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadServerConfig(writeFile(t, content))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := LoadServerConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadClientConfig(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, `
server_addr = "chat.local:5555"
username = " alice "
connect_timeout = "3s"
max_connect_attempts = 0
`)
	cfg, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "chat.local:5555", cfg.Address)
	assert.Equal(t, "alice", cfg.Username)
	assert.Equal(t, 3*time.Second, cfg.Session.ConnectTimeout)
	assert.Equal(t, 0, cfg.MaxConnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.Session.AckTimeout)

	_, err = LoadClientConfig(writeFile(t, `server_addr = ""`))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTemplatesLoadBack(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()

	serverPath := filepath.Join(dir, "chatd.toml")
	require.NoError(t, WriteTemplate(serverPath, KindServer, false))
	srv, err := LoadServerConfig(serverPath)
	require.NoError(t, err)
	assert.Equal(t, ":5555", srv.ListenAddr)
	assert.Equal(t, "127.0.0.1:5556", srv.AdminListenAddr)
	assert.Equal(t, 2*time.Second, srv.Session.AckTimeout)

	clientPath := filepath.Join(dir, "chatctl.toml")
	require.NoError(t, WriteTemplate(clientPath, KindClient, false))
	cl, err := LoadClientConfig(clientPath)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5555", cl.Address)

	assert.Error(t, WriteTemplate(serverPath, KindServer, false))
	require.NoError(t, WriteTemplate(serverPath, KindServer, true))

	_, err = Template("relay")
	assert.Error(t, err)
}
