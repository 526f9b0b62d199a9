package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/chatwire/internal/observability"
	"github.com/danmuck/chatwire/internal/protocol"
	"github.com/danmuck/chatwire/internal/protocol/arq"
	"github.com/danmuck/chatwire/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// chatSession is the server side of one client connection.
type chatSession struct {
	ctx      context.Context
	conn     *session.Conn
	outbox   *arq.Outbox
	registry *Registry

	mu       sync.RWMutex
	username string
	expired  bool
}

func newChatSession(ctx context.Context, conn *session.Conn, registry *Registry) *chatSession {
	return &chatSession{
		ctx:      ctx,
		conn:     conn,
		outbox:   arq.NewOutbox(conn, conn.Config().OutboxSize),
		registry: registry,
	}
}

func (s *chatSession) ID() string {
	return s.conn.ID()
}

func (s *chatSession) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// Deliver queues one reliable send behind any in flight on this session.
func (s *chatSession) Deliver(t protocol.MessageType, payload []byte) error {
	return s.outbox.Enqueue(arq.Delivery{
		Type:    t,
		Payload: payload,
		Done: func(_ arq.Ack, err error) {
			if err == nil || shutdownError(err) {
				return
			}
			log.Warn().
				Str("session", s.ID()).
				Str("username", s.Username()).
				Str("type", t.String()).
				Err(err).
				Msg("server.session delivery failed")
		},
	})
}

// shutdownError reports delivery results caused by this session ending
// rather than by the peer failing to ack.
func shutdownError(err error) bool {
	return errors.Is(err, arq.ErrOutboxClosed) ||
		errors.Is(err, arq.ErrSessionClosed) ||
		errors.Is(err, context.Canceled)
}

func (s *chatSession) HandleMessage(c *session.Conn, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeConnect:
		s.handleConnect(msg)
	case protocol.TypeChat:
		s.handleChat(msg)
	case protocol.TypeBroadcast:
		s.handleBroadcast(msg)
	case protocol.TypePrivate:
		s.handlePrivate(msg)
	case protocol.TypeDisconnect:
		log.Info().
			Str("session", s.ID()).
			Str("username", s.Username()).
			Msg("server.session disconnect requested")
	case protocol.TypeHeartbeat:
	case protocol.TypeError:
		var p protocol.ErrorPayload
		_ = protocol.UnmarshalPayload(msg, &p)
		log.Warn().Str("session", s.ID()).Str("error", p.Error).Msg("server.session peer reported error")
	default:
		log.Warn().
			Str("session", s.ID()).
			Str("type", msg.Type.String()).
			Uint32("seq", msg.Sequence).
			Msg("server.session ignored unexpected message")
	}
}

func (s *chatSession) handleConnect(msg protocol.Message) {
	var p protocol.ConnectPayload
	if err := protocol.UnmarshalPayload(msg, &p); err != nil {
		s.reject(msg, "Invalid connect payload", "invalid")
		return
	}
	p.Username = strings.TrimSpace(p.Username)
	if err := p.Validate(); err != nil {
		s.reject(msg, "Username required", "invalid")
		return
	}
	if reservedUsername(p.Username) {
		s.reject(msg, "Username reserved", "reserved")
		return
	}

	s.mu.Lock()
	current := s.username
	if current != "" {
		s.mu.Unlock()
		if current == p.Username {
			// Retransmitted CONNECT whose ack was lost.
			_ = s.conn.Acknowledge(msg)
			return
		}
		s.reject(msg, fmt.Sprintf("Already registered as %s", current), "invalid")
		return
	}
	if err := s.registry.Register(p.Username, s); err != nil {
		s.mu.Unlock()
		if errors.Is(err, ErrDuplicateUsername) {
			s.reject(msg, "Username already taken", "duplicate")
			return
		}
		s.reject(msg, err.Error(), "invalid")
		return
	}
	s.username = p.Username
	s.mu.Unlock()

	if err := s.conn.Acknowledge(msg); err != nil {
		log.Warn().Str("session", s.ID()).Err(err).Msg("server.session connect ack write failed")
	}
	observability.RecordRegistration("accepted")
	log.Info().
		Str("session", s.ID()).
		Str("username", p.Username).
		Str("remote", s.conn.RemoteAddr()).
		Msg("server.session registered")
	s.notice(p.Username, fmt.Sprintf("%s has joined the chat", p.Username))
}

// reservedUsername reports names clients would mistake for server notices.
func reservedUsername(name string) bool {
	return strings.EqualFold(name, protocol.ServerName)
}

func (s *chatSession) reject(msg protocol.Message, reason, result string) {
	observability.RecordRegistration(result)
	log.Warn().
		Str("session", s.ID()).
		Str("reason", reason).
		Msg("server.session registration rejected")
	if err := s.conn.Reject(msg, reason); err != nil {
		log.Warn().Str("session", s.ID()).Err(err).Msg("server.session nack write failed")
	}
}

// notice broadcasts a SERVER line to every session except skip.
func (s *chatSession) notice(skip, text string) {
	body, err := protocol.MarshalPayload(protocol.ChatPayload{
		Username:  protocol.ServerName,
		Message:   text,
		Broadcast: true,
	})
	if err != nil {
		return
	}
	s.registry.BroadcastExcept(s.ctx, skip, protocol.TypeBroadcast, body)
}

func (s *chatSession) requireRegistered() (string, bool) {
	name := s.Username()
	if name == "" {
		s.sendError("not registered")
		return "", false
	}
	return name, true
}

func (s *chatSession) sendError(text string) {
	if err := s.conn.Send(protocol.TypeError, protocol.ErrorPayload{Error: text}); err != nil {
		log.Warn().Str("session", s.ID()).Err(err).Msg("server.session error write failed")
	}
}

func (s *chatSession) handleChat(msg protocol.Message) {
	name, ok := s.requireRegistered()
	if !ok {
		return
	}
	var p protocol.ChatPayload
	if err := protocol.UnmarshalPayload(msg, &p); err != nil {
		s.sendError("invalid chat payload")
		return
	}
	body, err := protocol.MarshalPayload(protocol.ChatPayload{Username: name, Message: p.Message})
	if err != nil {
		return
	}
	n := s.registry.BroadcastExcept(s.ctx, name, protocol.TypeChat, body)
	log.Debug().Str("from", name).Int("recipients", n).Msg("server.session chat fan-out")
}

func (s *chatSession) handleBroadcast(msg protocol.Message) {
	name, ok := s.requireRegistered()
	if !ok {
		return
	}
	var p protocol.ChatPayload
	if err := protocol.UnmarshalPayload(msg, &p); err != nil {
		s.sendError("invalid broadcast payload")
		return
	}
	body, err := protocol.MarshalPayload(protocol.ChatPayload{Username: name, Message: p.Message, Broadcast: true})
	if err != nil {
		return
	}
	n := s.registry.Broadcast(s.ctx, name, protocol.TypeBroadcast, body)
	log.Debug().Str("from", name).Int("recipients", n).Msg("server.session broadcast fan-out")
}

func (s *chatSession) handlePrivate(msg protocol.Message) {
	name, ok := s.requireRegistered()
	if !ok {
		return
	}
	var p protocol.PrivatePayload
	if err := protocol.UnmarshalPayload(msg, &p); err != nil {
		s.sendError("invalid private payload")
		return
	}
	if err := p.Validate(); err != nil {
		s.sendError("recipient required")
		return
	}
	body, err := protocol.MarshalPayload(protocol.PrivatePayload{
		Sender:    name,
		Recipient: p.Recipient,
		Message:   p.Message,
		Private:   true,
	})
	if err != nil {
		return
	}
	if err := s.registry.DeliverPrivate(s.ctx, name, p.Recipient, body); err != nil {
		if errors.Is(err, ErrUnknownRecipient) {
			s.sendError(fmt.Sprintf("User '%s' not found or offline", p.Recipient))
			return
		}
		log.Warn().Str("from", name).Str("to", p.Recipient).Err(err).Msg("server.session private delivery not queued")
	}
}

// heartbeatLoop probes the peer each interval and closes the connection
// once it has been silent longer than the expiry.
func (s *chatSession) heartbeatLoop(ctx context.Context) {
	cfg := s.conn.Config()
	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.conn.Done():
			return
		case now := <-ticker.C:
			if s.conn.Expired(now) {
				s.mu.Lock()
				s.expired = true
				s.mu.Unlock()
				log.Warn().
					Str("session", s.ID()).
					Str("username", s.Username()).
					Time("last_heartbeat", s.conn.LastHeartbeat()).
					Msg("server.session heartbeat expired")
				_ = s.conn.Close()
				return
			}
			if s.conn.HeartbeatInFlight() {
				continue
			}
			go func() {
				if _, err := s.conn.Heartbeat(ctx); err != nil && !errors.Is(err, arq.ErrSendInFlight) {
					log.Debug().Str("session", s.ID()).Err(err).Msg("server.session heartbeat unanswered")
				}
			}()
		}
	}
}

func (s *chatSession) wasExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expired
}

// teardown releases the registry entry and announces the departure.
func (s *chatSession) teardown() string {
	s.outbox.Close()
	_ = s.conn.Close()
	name := s.Username()
	if name == "" {
		return ""
	}
	if s.registry.UnregisterSession(name, s) {
		s.notice(name, fmt.Sprintf("%s has left the chat", name))
	}
	return name
}
