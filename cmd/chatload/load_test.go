package main

import (
	"bytes"
	"context"
	"net"
	"testing"

	"github.com/danmuck/chatwire/internal/server"
	"github.com/danmuck/chatwire/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	svc := server.NewServiceWithConfig(server.ServiceConfig{ListenAddr: ln.Addr().String()})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = svc.Serve(ctx, ln) }()
	return ln.Addr().String()
}

func TestRunStressDeliversEveryMessage(t *testing.T) {
	testlog.Start(t)
	opts := defaultStressOptions()
	opts.Server = startServer(t)
	opts.Clients = 4
	opts.Messages = 5
	opts.Interval = 0
	opts.Stagger = 0

	stats, err := runStress(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.ClientsConnected)
	assert.Zero(t, stats.ClientsFailed)
	assert.Equal(t, int64(20), stats.MessagesSent)
	assert.Zero(t, stats.MessagesFailed)

	var out bytes.Buffer
	stats.print(&out, opts)
	assert.Contains(t, out.String(), "Messages sent:        20/20")
}

func TestRunLatency(t *testing.T) {
	testlog.Start(t)
	stats, err := runLatency(context.Background(), startServer(t), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Count)
	assert.LessOrEqual(t, stats.Min, stats.Avg)
	assert.LessOrEqual(t, stats.Avg, stats.Max)
}

func TestRunStressRejectsBadOptions(t *testing.T) {
	testlog.Start(t)
	opts := defaultStressOptions()
	opts.Clients = 0
	_, err := runStress(context.Background(), opts)
	assert.Error(t, err)
}
