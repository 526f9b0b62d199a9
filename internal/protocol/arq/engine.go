package arq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/chatwire/internal/observability"
	"github.com/danmuck/chatwire/internal/protocol"
	"github.com/danmuck/chatwire/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

var (
	ErrSendInFlight    = errors.New("arq: send already in flight on lane")
	ErrDeliveryFailure = errors.New("arq: delivery failed")
	ErrSessionClosed   = errors.New("arq: session closed")
	ErrRejected        = errors.New("arq: rejected by peer")
	ErrUnknownLane     = errors.New("arq: unknown lane")
)

// Lane is an independent stop-and-wait stream within one session.
type Lane int

const (
	// LaneData carries connect, chat, broadcast, private and disconnect sends.
	LaneData Lane = iota
	// LaneHeartbeat carries liveness probes so they never wait on chat traffic.
	LaneHeartbeat
	laneCount
)

func (l Lane) String() string {
	switch l {
	case LaneData:
		return "data"
	case LaneHeartbeat:
		return "heartbeat"
	}
	return fmt.Sprintf("lane(%d)", int(l))
}

// FrameWriter transmits one already-framed message.
type FrameWriter interface {
	WriteFrame(framed []byte) error
}

// Ack is the successful result of a reliable send.
type Ack struct {
	Sequence uint32
	Message  protocol.Message
	Attempts int
	Latency  time.Duration
}

// RejectedError reports a NACK received for a pending send.
type RejectedError struct {
	Sequence uint32
	Reason   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("arq: seq=%d rejected: %s", e.Sequence, e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// PendingSend is the single in-flight message of a lane.
type PendingSend struct {
	Sequence    uint32
	Type        protocol.MessageType
	Frame       []byte
	FirstSentAt time.Time
	SentAt      time.Time
	Retries     int

	result chan protocol.Message
}

type lane struct {
	slot    chan struct{}
	pending *PendingSend
}

// Engine is the per-session reliability state machine.
type Engine struct {
	w   FrameWriter
	cfg Config

	nextSeq atomic.Uint32

	mu    sync.Mutex
	lanes [laneCount]*lane

	closeOnce sync.Once
	closed    chan struct{}
}

type Option func(*Engine)

// WithInitialSequence sets the first sequence number the engine allocates.
func WithInitialSequence(seq uint32) Option {
	return func(e *Engine) {
		e.nextSeq.Store(seq)
	}
}

func NewEngine(w FrameWriter, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		w:      w,
		cfg:    cfg.WithDefaults(),
		closed: make(chan struct{}),
	}
	for i := range e.lanes {
		e.lanes[i] = &lane{slot: make(chan struct{}, 1)}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() Config {
	return e.cfg
}

// NextSequence allocates the next sequence number. Numbers are never reused.
func (e *Engine) NextSequence() uint32 {
	return e.nextSeq.Add(1) - 1
}

// SendReliable transmits one message on l and blocks until it is acked,
// rejected, exhausts its retries, ctx ends, or the engine is closed.
//
// A second call on a lane that already has a send outstanding fails
// immediately with ErrSendInFlight; callers queue above this layer.
func (e *Engine) SendReliable(ctx context.Context, l Lane, t protocol.MessageType, payload []byte) (Ack, error) {
	ln, err := e.lane(l)
	if err != nil {
		return Ack{}, err
	}
	select {
	case ln.slot <- struct{}{}:
	default:
		return Ack{}, fmt.Errorf("%w: lane=%s", ErrSendInFlight, l)
	}
	defer func() { <-ln.slot }()

	if e.isClosed() {
		return Ack{}, fmt.Errorf("%w: %w", ErrDeliveryFailure, ErrSessionClosed)
	}

	seq := e.NextSequence()
	encoded, err := protocol.Encode(t, seq, uint64(time.Now().UnixMilli()), payload)
	if err != nil {
		return Ack{}, err
	}
	if uint64(len(encoded)) > uint64(e.cfg.Limits.MaxFrameBytes) {
		return Ack{}, frame.ErrFrameTooLarge
	}
	p := &PendingSend{
		Sequence: seq,
		Type:     t,
		Frame:    frame.Frame(encoded),
		result:   make(chan protocol.Message, 1),
	}
	e.mu.Lock()
	ln.pending = p
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		ln.pending = nil
		e.mu.Unlock()
	}()

	return e.await(ctx, l, p)
}

func (e *Engine) await(ctx context.Context, l Lane, p *PendingSend) (Ack, error) {
	typeLabel := p.Type.String()
	for {
		now := time.Now()
		e.mu.Lock()
		if p.FirstSentAt.IsZero() {
			p.FirstSentAt = now
		}
		p.SentAt = now
		retries := p.Retries
		e.mu.Unlock()

		if err := e.w.WriteFrame(p.Frame); err != nil {
			observability.RecordDelivery(typeLabel, "closed", time.Since(p.FirstSentAt))
			return Ack{}, err
		}
		observability.RecordFrameSent(typeLabel)
		if retries > 0 {
			observability.RecordRetransmission(typeLabel)
		}

		timer := time.NewTimer(e.cfg.AckTimeout)
		select {
		case msg := <-p.result:
			timer.Stop()
			elapsed := time.Since(p.FirstSentAt)
			if msg.Type == protocol.TypeNack {
				var nack protocol.NackPayload
				_ = protocol.UnmarshalPayload(msg, &nack)
				observability.RecordDelivery(typeLabel, "rejected", elapsed)
				return Ack{}, &RejectedError{Sequence: p.Sequence, Reason: nack.Reason}
			}
			observability.RecordDelivery(typeLabel, "acked", elapsed)
			return Ack{
				Sequence: p.Sequence,
				Message:  msg,
				Attempts: retries + 1,
				Latency:  elapsed,
			}, nil

		case <-timer.C:
			if retries >= e.cfg.MaxRetries {
				observability.RecordDelivery(typeLabel, "failed", time.Since(p.FirstSentAt))
				return Ack{}, fmt.Errorf(
					"%w: seq=%d type=%s transmissions=%d",
					ErrDeliveryFailure, p.Sequence, p.Type, retries+1,
				)
			}
			e.mu.Lock()
			p.Retries++
			e.mu.Unlock()
			log.Debug().
				Uint32("seq", p.Sequence).
				Str("type", typeLabel).
				Str("lane", l.String()).
				Int("retry", retries+1).
				Msg("arq.Engine ack timeout, retransmitting")

		case <-ctx.Done():
			timer.Stop()
			observability.RecordDelivery(typeLabel, "closed", time.Since(p.FirstSentAt))
			return Ack{}, ctx.Err()

		case <-e.closed:
			timer.Stop()
			observability.RecordDelivery(typeLabel, "closed", time.Since(p.FirstSentAt))
			return Ack{}, fmt.Errorf("%w: %w", ErrDeliveryFailure, ErrSessionClosed)
		}
	}
}

// HandleAck matches an ACK or NACK against the pending sends by exact
// sequence number. Stale or unknown acks are ignored and reported false.
func (e *Engine) HandleAck(msg protocol.Message) bool {
	seq := protocol.AckedSequence(msg)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ln := range e.lanes {
		p := ln.pending
		if p == nil || p.Sequence != seq {
			continue
		}
		select {
		case p.result <- msg:
		default:
		}
		return true
	}
	return false
}

// Acknowledge emits the ack answering msg, carrying its sequence number.
func (e *Engine) Acknowledge(msg protocol.Message) error {
	body, err := protocol.MarshalPayload(protocol.NewAckPayload(msg.Sequence))
	if err != nil {
		return err
	}
	return e.transmit(msg.Type.AckType(), msg.Sequence, body)
}

// Reject emits a NACK for msg with a human-readable reason.
func (e *Engine) Reject(msg protocol.Message, reason string) error {
	body, err := protocol.MarshalPayload(protocol.NewNackPayload(msg.Sequence, reason))
	if err != nil {
		return err
	}
	return e.transmit(protocol.TypeNack, msg.Sequence, body)
}

// Send transmits one message that expects no acknowledgment.
func (e *Engine) Send(t protocol.MessageType, payload []byte) error {
	return e.transmit(t, e.NextSequence(), payload)
}

func (e *Engine) transmit(t protocol.MessageType, seq uint32, payload []byte) error {
	encoded, err := protocol.Encode(t, seq, uint64(time.Now().UnixMilli()), payload)
	if err != nil {
		return err
	}
	if err := e.w.WriteFrame(frame.Frame(encoded)); err != nil {
		return err
	}
	observability.RecordFrameSent(t.String())
	return nil
}

// Pending returns a copy of the in-flight send on l, if any.
func (e *Engine) Pending(l Lane) (PendingSend, bool) {
	ln, err := e.lane(l)
	if err != nil {
		return PendingSend{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if ln.pending == nil {
		return PendingSend{}, false
	}
	out := *ln.pending
	out.result = nil
	return out, true
}

// Close abandons outstanding sends; their callers wake with ErrSessionClosed.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.closed)
	})
}

// Done is closed once the engine is closed.
func (e *Engine) Done() <-chan struct{} {
	return e.closed
}

func (e *Engine) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

func (e *Engine) lane(l Lane) (*lane, error) {
	if l < 0 || l >= laneCount {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLane, int(l))
	}
	return e.lanes[l], nil
}
