package arq

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/chatwire/internal/protocol"
)

var (
	ErrOutboxFull   = errors.New("arq: outbox full")
	ErrOutboxClosed = errors.New("arq: outbox closed")
)

// Sender is the reliable-send surface an Outbox drains into.
type Sender interface {
	SendReliable(ctx context.Context, l Lane, t protocol.MessageType, payload []byte) (Ack, error)
}

// Delivery is one queued reliable send.
type Delivery struct {
	Type    protocol.MessageType
	Payload []byte
	// Done, if set, receives the terminal result exactly once.
	Done func(Ack, error)
}

// Outbox serializes deliveries onto the data lane in FIFO order.
type Outbox struct {
	sender Sender

	mu     sync.Mutex
	queue  chan Delivery
	closed chan struct{}
	once   sync.Once
}

func NewOutbox(sender Sender, size int) *Outbox {
	if size <= 0 {
		size = DefaultConfig().OutboxSize
	}
	return &Outbox{
		sender: sender,
		queue:  make(chan Delivery, size),
		closed: make(chan struct{}),
	}
}

// Enqueue queues d without blocking.
func (o *Outbox) Enqueue(d Delivery) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	select {
	case <-o.closed:
		return ErrOutboxClosed
	default:
	}
	select {
	case o.queue <- d:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Len returns the number of deliveries waiting behind the in-flight one.
func (o *Outbox) Len() int {
	return len(o.queue)
}

// Run drains the queue until ctx ends or Close is called. Deliveries still
// queued at that point complete with ErrOutboxClosed.
func (o *Outbox) Run(ctx context.Context) {
	for {
		select {
		case <-o.closed:
			o.drain()
			return
		default:
		}
		select {
		case <-ctx.Done():
			o.Close()
			o.drain()
			return
		case <-o.closed:
			o.drain()
			return
		case d := <-o.queue:
			ack, err := o.sender.SendReliable(ctx, LaneData, d.Type, d.Payload)
			if d.Done != nil {
				d.Done(ack, err)
			}
		}
	}
}

func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.once.Do(func() {
		close(o.closed)
	})
}

func (o *Outbox) drain() {
	for {
		select {
		case d := <-o.queue:
			if d.Done != nil {
				d.Done(Ack{}, ErrOutboxClosed)
			}
		default:
			return
		}
	}
}
