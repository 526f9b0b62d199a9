package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/chatwire/internal/protocol"
	"github.com/danmuck/chatwire/internal/protocol/arq"
	"github.com/danmuck/chatwire/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrServerAddressRequired = errors.New("client: server address required")
	ErrUsernameRequired      = errors.New("client: username required")
	ErrRegistrationRejected  = errors.New("client: registration rejected")
	ErrNotConnected          = errors.New("client: not connected")
	ErrAlreadyConnected      = errors.New("client: already connected")
	ErrNotRegistered         = errors.New("client: not registered")
)

type Config struct {
	Address            string
	Username           string
	Session            arq.Config
	MaxConnectAttempts int
}

func DefaultConfig() Config {
	return Config{
		Address:            "127.0.0.1:5555",
		Session:            arq.DefaultConfig(),
		MaxConnectAttempts: 5,
	}
}

// Callbacks receive inbound chat traffic on the read goroutine. Nil
// callbacks are skipped, except that broadcasts fall back to
// OnMessageReceived and errors fall back to OnSystemNotice.
type Callbacks struct {
	OnMessageReceived   func(sender, text string)
	OnBroadcastReceived func(sender, text string)
	OnPrivateMessage    func(sender, text string)
	OnSystemNotice      func(text string)
	OnServerError       func(text string)
}

// Client is one chat participant connected to a server.
type Client struct {
	cfg Config
	cb  Callbacks
	rng *rand.Rand

	// sendMu serializes reliable sends so callers queue rather than
	// collide on the data lane.
	sendMu sync.Mutex

	mu       sync.RWMutex
	conn     *session.Conn
	username string
	done     chan struct{}
	serveErr error
}

func New(cfg Config, cb Callbacks) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrServerAddressRequired
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Client{
		cfg: cfg,
		cb:  cb,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Dial opens the transport, retrying with backoff up to MaxConnectAttempts.
func (c *Client) Dial(ctx context.Context) error {
	c.mu.RLock()
	connected := c.conn != nil
	c.mu.RUnlock()
	if connected {
		return ErrAlreadyConnected
	}

	var attempt int
	for {
		attempt++
		dialer := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}
		nc, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
		if err == nil {
			if !c.start(nc) {
				_ = nc.Close()
				return ErrAlreadyConnected
			}
			log.Debug().Str("addr", c.cfg.Address).Int("attempt", attempt).Msg("client.Client connected")
			return nil
		}
		log.Warn().Str("addr", c.cfg.Address).Int("attempt", attempt).Err(err).Msg("client.Client dial failed")
		if !c.shouldRetry(attempt) {
			return err
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return err
		}
	}
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := arq.NextBackoffDelay(c.cfg.Session.Backoff, attempt, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// start installs nc as the live connection. It reports false, leaving the
// client untouched, when another Dial got there first.
func (c *Client) start(nc net.Conn) bool {
	conn := session.New(nc, c.cfg.Session)
	done := make(chan struct{})
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.done = done
	c.serveErr = nil
	c.mu.Unlock()

	go func() {
		err := conn.Serve(context.Background(), session.HandlerFunc(c.dispatch))
		_ = conn.Close()
		c.mu.Lock()
		c.serveErr = err
		if c.conn == conn {
			c.conn = nil
			c.username = ""
		}
		c.mu.Unlock()
		if err != nil {
			log.Warn().Err(err).Msg("client.Client connection lost")
		}
		close(done)
	}()
	return true
}

func (c *Client) dispatch(_ *session.Conn, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeChat, protocol.TypeBroadcast:
		var p protocol.ChatPayload
		if err := protocol.UnmarshalPayload(msg, &p); err != nil {
			log.Warn().Err(err).Msg("client.Client bad chat payload")
			return
		}
		if p.Username == protocol.ServerName {
			c.notice(p.Message)
			return
		}
		if msg.Type == protocol.TypeBroadcast && c.cb.OnBroadcastReceived != nil {
			c.cb.OnBroadcastReceived(p.Username, p.Message)
			return
		}
		if c.cb.OnMessageReceived != nil {
			c.cb.OnMessageReceived(p.Username, p.Message)
		}
	case protocol.TypePrivate:
		var p protocol.PrivatePayload
		if err := protocol.UnmarshalPayload(msg, &p); err != nil {
			log.Warn().Err(err).Msg("client.Client bad private payload")
			return
		}
		if c.cb.OnPrivateMessage != nil {
			c.cb.OnPrivateMessage(p.Sender, p.Message)
		}
	case protocol.TypeError:
		var p protocol.ErrorPayload
		_ = protocol.UnmarshalPayload(msg, &p)
		if c.cb.OnServerError != nil {
			c.cb.OnServerError(p.Error)
			return
		}
		c.notice(p.Error)
	case protocol.TypeHeartbeat:
	default:
		log.Debug().Str("type", msg.Type.String()).Msg("client.Client ignored message")
	}
}

func (c *Client) notice(text string) {
	if c.cb.OnSystemNotice != nil {
		c.cb.OnSystemNotice(text)
	}
}

func (c *Client) current() (*session.Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

func (c *Client) send(ctx context.Context, t protocol.MessageType, v any) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	body, err := protocol.MarshalPayload(v)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, err = conn.SendReliable(ctx, arq.LaneData, t, body)
	return err
}

// Register claims username on an open connection. A rejection leaves the
// connection open for another attempt.
func (c *Client) Register(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrUsernameRequired
	}
	err := c.send(ctx, protocol.TypeConnect, protocol.ConnectPayload{
		Username: username,
		Action:   protocol.ActionConnect,
	})
	if err != nil {
		if errors.Is(err, arq.ErrRejected) {
			return fmt.Errorf("%w: %w", ErrRegistrationRejected, err)
		}
		return err
	}
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
	log.Info().Str("username", username).Msg("client.Client registered")
	return nil
}

// Connect dials and registers the configured username.
func (c *Client) Connect(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.Username) == "" {
		return ErrUsernameRequired
	}
	if err := c.Dial(ctx); err != nil {
		return err
	}
	if err := c.Register(ctx, c.cfg.Username); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

func (c *Client) registered() (string, error) {
	name := c.Username()
	if name == "" {
		if _, err := c.current(); err != nil {
			return "", err
		}
		return "", ErrNotRegistered
	}
	return name, nil
}

// SubmitUserMessage sends text to every other participant.
func (c *Client) SubmitUserMessage(ctx context.Context, text string) error {
	name, err := c.registered()
	if err != nil {
		return err
	}
	return c.send(ctx, protocol.TypeChat, protocol.ChatPayload{Username: name, Message: text})
}

// SubmitBroadcast sends text to every participant, this one included.
func (c *Client) SubmitBroadcast(ctx context.Context, text string) error {
	name, err := c.registered()
	if err != nil {
		return err
	}
	return c.send(ctx, protocol.TypeBroadcast, protocol.ChatPayload{Username: name, Message: text, Broadcast: true})
}

// SubmitPrivate sends text to one participant.
func (c *Client) SubmitPrivate(ctx context.Context, recipient, text string) error {
	name, err := c.registered()
	if err != nil {
		return err
	}
	return c.send(ctx, protocol.TypePrivate, protocol.PrivatePayload{
		Sender:    name,
		Recipient: strings.TrimSpace(recipient),
		Message:   text,
		Private:   true,
	})
}

// Disconnect announces a clean exit, waiting at most one ack timeout, and
// closes the connection.
func (c *Client) Disconnect(ctx context.Context) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	conn.MarkGraceful()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Session.AckTimeout)
	defer cancel()
	err = c.send(ctx, protocol.TypeDisconnect, protocol.ConnectPayload{
		Username: c.Username(),
		Action:   protocol.ActionDisconnect,
	})
	_ = c.Close()
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// Close drops the connection without a DISCONNECT.
func (c *Client) Close() error {
	c.mu.RLock()
	conn, done := c.conn, c.done
	c.mu.RUnlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	return err
}

// Done is closed when the current connection ends.
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// Err returns the read loop result of the last connection.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serveErr
}
