package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/danmuck/chatwire/internal/client"
	"github.com/danmuck/chatwire/internal/config"
	"github.com/danmuck/chatwire/internal/logging"
	"github.com/danmuck/chatwire/internal/protocol"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	server     string
	username   string
}

func resolveClientConfig(cmd *cobra.Command, opts options) (client.Config, error) {
	cfg := client.DefaultConfig()
	if path := strings.TrimSpace(opts.configPath); path != "" {
		loaded, err := config.LoadClientConfig(path)
		if err != nil {
			return client.Config{}, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("server") {
		cfg.Address = strings.TrimSpace(opts.server)
	}
	if cmd.Flags().Changed("username") {
		cfg.Username = strings.TrimSpace(opts.username)
	}
	if cfg.Username == "" {
		return client.Config{}, client.ErrUsernameRequired
	}
	if err := config.ValidateClientConfig(cfg); err != nil {
		return client.Config{}, err
	}
	return cfg, nil
}

type commandKind int

const (
	cmdNone commandKind = iota
	cmdChat
	cmdBroadcast
	cmdPrivate
	cmdQuit
	cmdUsage
)

type command struct {
	kind      commandKind
	recipient string
	text      string
	usage     string
}

// parseLine maps one input line to a client action.
func parseLine(line string) command {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return command{kind: cmdNone}
	case line == "/quit" || strings.HasPrefix(line, "/quit "):
		return command{kind: cmdQuit}
	case strings.HasPrefix(line, "/broadcast"):
		text := strings.TrimSpace(strings.TrimPrefix(line, "/broadcast"))
		if text == "" {
			return command{kind: cmdUsage, usage: "Usage: /broadcast <message>"}
		}
		return command{kind: cmdBroadcast, text: text}
	case strings.HasPrefix(line, "/msg"):
		parts := strings.SplitN(strings.TrimSpace(strings.TrimPrefix(line, "/msg")), " ", 2)
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return command{kind: cmdUsage, usage: "Usage: /msg <username> <message>"}
		}
		return command{kind: cmdPrivate, recipient: parts[0], text: strings.TrimSpace(parts[1])}
	}
	return command{kind: cmdChat, text: line}
}

// console serializes writes from the read goroutine and the input loop.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) callbacks() client.Callbacks {
	return client.Callbacks{
		OnMessageReceived: func(sender, text string) {
			c.printf("%s: %s\n", sender, text)
		},
		OnBroadcastReceived: func(sender, text string) {
			c.printf("[BROADCAST] %s: %s\n", sender, text)
		},
		OnPrivateMessage: func(sender, text string) {
			c.printf("[PRIVATE from %s]: %s\n", sender, text)
		},
		OnSystemNotice: func(text string) {
			c.printf("[%s] %s\n", protocol.ServerName, text)
		},
		OnServerError: func(text string) {
			c.printf("[ERROR] %s\n", text)
		},
	}
}

func runInteractive(ctx context.Context, cfg client.Config, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logging.ConfigureRuntime()
	con := &console{out: out}

	cl, err := client.New(cfg, con.callbacks())
	if err != nil {
		return err
	}

	con.printf("Connecting to %s...\n", cfg.Address)
	if err := cl.Connect(ctx); err != nil {
		return err
	}
	con.printf("Registered as '%s'\n", cl.Username())
	con.printf("Commands: /broadcast <message>, /msg <user> <message>, /quit\n")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return cl.Disconnect(context.Background())
		case <-cl.Done():
			con.printf("Connection closed\n")
			return cl.Err()
		case line, ok := <-lines:
			if !ok {
				return cl.Disconnect(ctx)
			}
			c := parseLine(line)
			var sendErr error
			switch c.kind {
			case cmdNone:
				continue
			case cmdQuit:
				err := cl.Disconnect(ctx)
				con.printf("Disconnected\n")
				return err
			case cmdUsage:
				con.printf("[ERROR] %s\n", c.usage)
				continue
			case cmdChat:
				sendErr = cl.SubmitUserMessage(ctx, c.text)
			case cmdBroadcast:
				sendErr = cl.SubmitBroadcast(ctx, c.text)
			case cmdPrivate:
				sendErr = cl.SubmitPrivate(ctx, c.recipient, c.text)
			}
			if sendErr != nil {
				con.printf("[ERROR] %v\n", sendErr)
				if errors.Is(sendErr, client.ErrNotConnected) {
					return sendErr
				}
			}
		}
	}
}
