package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/chatwire/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrDuplicateUsername = errors.New("server: username already taken")
	ErrUnknownRecipient  = errors.New("server: unknown recipient")
)

// Recipient is a registered session that accepts queued reliable deliveries.
type Recipient interface {
	ID() string
	Deliver(t protocol.MessageType, payload []byte) error
}

// Registry maps usernames to live sessions.
type Registry struct {
	mu    sync.RWMutex
	users map[string]Recipient
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[string]Recipient)}
}

// Register binds username to r. It fails with ErrDuplicateUsername when the
// name is already held by any session.
func (r *Registry) Register(username string, rcpt Recipient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[username]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateUsername, username)
	}
	r.users[username] = rcpt
	return nil
}

// Unregister removes username. Removing an absent name is a no-op.
func (r *Registry) Unregister(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, username)
}

// UnregisterSession removes username only while it still belongs to rcpt.
func (r *Registry) UnregisterSession(username string, rcpt Recipient) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.users[username]
	if !ok || cur.ID() != rcpt.ID() {
		return false
	}
	delete(r.users, username)
	return true
}

func (r *Registry) Lookup(username string) (Recipient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rcpt, ok := r.users[username]
	return rcpt, ok
}

// Usernames returns the registered names in sorted order.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.users))
	for name := range r.users {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Broadcast queues payload to every registered session, the sender
// included, and returns the number of deliveries queued.
func (r *Registry) Broadcast(ctx context.Context, from string, t protocol.MessageType, payload []byte) int {
	return r.fanOut(ctx, from, "", t, payload)
}

// BroadcastExcept queues payload to every registered session but except.
func (r *Registry) BroadcastExcept(ctx context.Context, except string, t protocol.MessageType, payload []byte) int {
	return r.fanOut(ctx, except, except, t, payload)
}

type target struct {
	name string
	rcpt Recipient
}

func (r *Registry) snapshot(except string) []target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]target, 0, len(r.users))
	for name, rcpt := range r.users {
		if except != "" && name == except {
			continue
		}
		out = append(out, target{name: name, rcpt: rcpt})
	}
	return out
}

func (r *Registry) fanOut(ctx context.Context, from, except string, t protocol.MessageType, payload []byte) int {
	targets := r.snapshot(except)
	queued := 0
	for _, tg := range targets {
		if ctx.Err() != nil {
			break
		}
		if err := tg.rcpt.Deliver(t, payload); err != nil {
			log.Warn().
				Str("from", from).
				Str("to", tg.name).
				Str("type", t.String()).
				Err(err).
				Msg("server.Registry fan-out delivery not queued")
			continue
		}
		queued++
	}
	return queued
}

// DeliverPrivate queues payload to the session registered as to.
func (r *Registry) DeliverPrivate(ctx context.Context, from, to string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rcpt, ok := r.Lookup(to)
	if !ok {
		return fmt.Errorf("%w: from=%q to=%q", ErrUnknownRecipient, from, to)
	}
	return rcpt.Deliver(protocol.TypePrivate, payload)
}
