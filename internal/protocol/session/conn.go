package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/chatwire/internal/observability"
	"github.com/danmuck/chatwire/internal/protocol"
	"github.com/danmuck/chatwire/internal/protocol/arq"
	"github.com/danmuck/chatwire/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrAbruptClose reports a connection that ended without a DISCONNECT.
var ErrAbruptClose = errors.New("session: abrupt close")

// Handler receives every inbound message that survives classification.
type Handler interface {
	HandleMessage(c *Conn, msg protocol.Message)
}

type HandlerFunc func(c *Conn, msg protocol.Message)

func (f HandlerFunc) HandleMessage(c *Conn, msg protocol.Message) {
	f(c, msg)
}

// delivered tracks the last dispatched sequence on one lane.
type delivered struct {
	seq uint32
	ok  bool
}

// Conn is one protocol connection with its reliability engine.
type Conn struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader
	cfg    arq.Config
	engine *arq.Engine

	writeMu sync.Mutex

	lastHeartbeat atomic.Int64
	graceful      atomic.Bool

	seen [2]delivered

	closeOnce sync.Once
	closeErr  error
}

// New wraps conn. The sequence counter starts at zero.
func New(conn net.Conn, cfg arq.Config, opts ...arq.Option) *Conn {
	c := &Conn{
		id:     uuid.NewString(),
		conn:   conn,
		reader: bufio.NewReader(conn),
		cfg:    cfg.WithDefaults(),
	}
	c.engine = arq.NewEngine(c, c.cfg, opts...)
	c.touch(time.Now())
	return c
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) RemoteAddr() string {
	if c.conn.RemoteAddr() == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

func (c *Conn) Config() arq.Config {
	return c.cfg
}

// WriteFrame writes one framed message under the write lock and deadline.
func (c *Conn) WriteFrame(framed []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	return frame.WriteFull(c.conn, framed)
}

// Serve runs the read loop until the connection ends or ctx is done.
//
// It returns nil after a DISCONNECT (received or marked locally), a
// protocol.ErrFormat error for malformed or truncated frames, and
// ErrAbruptClose wrapping the cause otherwise.
func (c *Conn) Serve(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	defer c.engine.Close()

	for {
		raw, err := frame.ReadFrame(c.reader, c.cfg.Limits)
		if err != nil {
			return c.readError(err)
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			if errors.Is(err, protocol.ErrIntegrity) {
				observability.RecordInboundDrop("integrity")
				log.Warn().Str("session", c.id).Err(err).Msg("session.Conn dropped corrupted frame")
				continue
			}
			observability.RecordInboundDrop("format")
			log.Warn().Str("session", c.id).Err(err).Msg("session.Conn malformed frame")
			return err
		}
		c.touch(time.Now())

		if msg.Type.IsAck() || msg.Type == protocol.TypeNack {
			if !c.engine.HandleAck(msg) {
				observability.RecordInboundDrop("stale_ack")
				log.Debug().
					Str("session", c.id).
					Uint32("seq", protocol.AckedSequence(msg)).
					Str("type", msg.Type.String()).
					Msg("session.Conn ignored stale ack")
			}
			continue
		}

		if requiresAck(msg.Type) {
			if err := c.engine.Acknowledge(msg); err != nil {
				return c.readError(err)
			}
			if c.duplicate(msg) {
				observability.RecordInboundDrop("duplicate")
				log.Debug().
					Str("session", c.id).
					Uint32("seq", msg.Sequence).
					Str("type", msg.Type.String()).
					Msg("session.Conn re-acked duplicate")
				continue
			}
		}

		if msg.Type == protocol.TypeDisconnect {
			c.MarkGraceful()
		}
		h.HandleMessage(c, msg)
		if msg.Type == protocol.TypeDisconnect {
			return nil
		}
	}
}

func requiresAck(t protocol.MessageType) bool {
	switch t {
	case protocol.TypeDisconnect, protocol.TypeChat, protocol.TypeBroadcast,
		protocol.TypePrivate, protocol.TypeHeartbeat:
		return true
	}
	return false
}

func laneOf(t protocol.MessageType) arq.Lane {
	if t == protocol.TypeHeartbeat {
		return arq.LaneHeartbeat
	}
	return arq.LaneData
}

// duplicate reports whether msg repeats the last dispatched sequence on its
// lane, recording it otherwise. Only the read loop calls it.
func (c *Conn) duplicate(msg protocol.Message) bool {
	d := &c.seen[laneOf(msg.Type)]
	if d.ok && d.seq == msg.Sequence {
		return true
	}
	d.seq, d.ok = msg.Sequence, true
	return false
}

func (c *Conn) readError(err error) error {
	if c.graceful.Load() {
		return nil
	}
	if errors.Is(err, protocol.ErrFormat) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrAbruptClose, err)
}

// SendReliable transmits one message and waits for its ack on lane l.
func (c *Conn) SendReliable(ctx context.Context, l arq.Lane, t protocol.MessageType, payload []byte) (arq.Ack, error) {
	return c.engine.SendReliable(ctx, l, t, payload)
}

// Heartbeat sends one liveness probe on the heartbeat lane.
func (c *Conn) Heartbeat(ctx context.Context) (arq.Ack, error) {
	body, err := protocol.MarshalPayload(protocol.HeartbeatPayload{Type: "heartbeat"})
	if err != nil {
		return arq.Ack{}, err
	}
	return c.engine.SendReliable(ctx, arq.LaneHeartbeat, protocol.TypeHeartbeat, body)
}

// HeartbeatInFlight reports whether a probe is still awaiting its ack.
func (c *Conn) HeartbeatInFlight() bool {
	_, ok := c.engine.Pending(arq.LaneHeartbeat)
	return ok
}

// Send transmits an unacknowledged message such as ERROR.
func (c *Conn) Send(t protocol.MessageType, v any) error {
	body, err := protocol.MarshalPayload(v)
	if err != nil {
		return err
	}
	return c.engine.Send(t, body)
}

func (c *Conn) Acknowledge(msg protocol.Message) error {
	return c.engine.Acknowledge(msg)
}

func (c *Conn) Reject(msg protocol.Message, reason string) error {
	return c.engine.Reject(msg, reason)
}

// MarkGraceful records that the connection is ending by DISCONNECT.
func (c *Conn) MarkGraceful() {
	c.graceful.Store(true)
}

func (c *Conn) Graceful() bool {
	return c.graceful.Load()
}

func (c *Conn) touch(now time.Time) {
	c.lastHeartbeat.Store(now.UnixNano())
}

// LastHeartbeat returns when the last valid inbound message arrived.
func (c *Conn) LastHeartbeat() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load())
}

// Expired reports whether the peer has been silent longer than HeartbeatExpiry.
func (c *Conn) Expired(now time.Time) bool {
	return now.Sub(c.LastHeartbeat()) > c.cfg.HeartbeatExpiry
}

// Close releases waiting senders and closes the transport. It is idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.engine.Close()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.engine.Done()
}
