package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/chatwire/internal/client"
	"github.com/danmuck/chatwire/internal/server"
	"github.com/danmuck/chatwire/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		in   string
		want command
	}{
		{"", command{kind: cmdNone}},
		{"   ", command{kind: cmdNone}},
		{"hello there", command{kind: cmdChat, text: "hello there"}},
		{"/quit", command{kind: cmdQuit}},
		{"/broadcast hi all", command{kind: cmdBroadcast, text: "hi all"}},
		{"/broadcast", command{kind: cmdUsage, usage: "Usage: /broadcast <message>"}},
		{"/msg bob see you", command{kind: cmdPrivate, recipient: "bob", text: "see you"}},
		{"/msg bob", command{kind: cmdUsage, usage: "Usage: /msg <username> <message>"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, parseLine(tc.in), tc.in)
	}
}

func TestResolveClientConfigRequiresUsername(t *testing.T) {
	testlog.Start(t)
	cmd := rootCmd()
	_, err := resolveClientConfig(cmd, options{})
	assert.ErrorIs(t, err, client.ErrUsernameRequired)

	require.NoError(t, cmd.Flags().Parse([]string{"--username", "alice", "--server", "10.0.0.1:5555"}))
	cfg, err := resolveClientConfig(cmd, options{username: "alice", server: "10.0.0.1:5555"})
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Username)
	assert.Equal(t, "10.0.0.1:5555", cfg.Address)
}

func TestConsoleCallbackFormats(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	cb := (&console{out: &out}).callbacks()

	cb.OnMessageReceived("alice", "hi")
	cb.OnBroadcastReceived("bob", "all")
	cb.OnPrivateMessage("carol", "psst")
	cb.OnSystemNotice("dave has joined the chat")
	cb.OnServerError("User 'zed' not found or offline")

	assert.Equal(t, strings.Join([]string{
		"alice: hi",
		"[BROADCAST] bob: all",
		"[PRIVATE from carol]: psst",
		"[SERVER] dave has joined the chat",
		"[ERROR] User 'zed' not found or offline",
		"",
	}, "\n"), out.String())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunInteractiveSessionAgainstServer(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	svc := server.NewServiceWithConfig(server.ServiceConfig{ListenAddr: ln.Addr().String()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Serve(ctx, ln) }()

	cfg := client.DefaultConfig()
	cfg.Address = ln.Addr().String()
	cfg.Username = "alice"
	in := strings.NewReader("/broadcast hello\n/msg nobody hi\n/quit\n")
	out := &syncBuffer{}

	require.NoError(t, runInteractive(context.Background(), cfg, in, out))
	text := out.String()
	assert.Contains(t, text, "Registered as 'alice'")
	assert.Contains(t, text, "Disconnected")

	assert.Eventually(t, func() bool {
		return svc.Registry().Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
