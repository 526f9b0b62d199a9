package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/chatwire/internal/observability"
	"github.com/danmuck/chatwire/internal/protocol/arq"
	"github.com/danmuck/chatwire/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ServiceConfig configures the chat listener and optional admin listener.
type ServiceConfig struct {
	ListenAddr      string
	AdminListenAddr string
	Session         arq.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:      ":5555",
		AdminListenAddr: "",
		Session:         arq.DefaultConfig(),
	}
}

// Service accepts chat connections and routes messages between them.
type Service struct {
	cfg      ServiceConfig
	registry *Registry
	started  time.Time

	connsMu sync.Mutex
	conns   map[*session.Conn]struct{}

	activeClients atomic.Int64
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = DefaultServiceConfig().ListenAddr
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Service{
		cfg:      cfg,
		registry: NewRegistry(),
		started:  time.Now(),
		conns:    make(map[*session.Conn]struct{}),
	}
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

// ActiveClients counts accepted connections, registered or not.
func (s *Service) ActiveClients() int64 {
	return s.activeClients.Load()
}

// Run listens on the configured addresses and blocks until SIGINT/SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext serves the chat listener, and the admin listener when
// configured, until ctx ends or either fails.
func (s *Service) RunContext(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("server.Service.Run listening")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Serve(ctx, ln)
	})
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		g.Go(func() error {
			return s.serveAdmin(ctx, addr)
		})
	}
	return g.Wait()
}

// Serve runs the accept loop on an existing listener.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.closeAllConns()
			return err
		}
		c := session.New(conn, s.cfg.Session)
		s.trackConn(c)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, c)
		}()
	}
}

func (s *Service) handleConn(ctx context.Context, c *session.Conn) {
	defer s.untrackConn(c)
	remote := c.RemoteAddr()
	active := s.activeClients.Add(1)
	observability.SessionOpened()
	log.Info().
		Str("session", c.ID()).
		Str("remote", remote).
		Int64("active_clients", active).
		Msg("server.session client connected")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cs := newChatSession(ctx, c, s.registry)
	go cs.outbox.Run(connCtx)
	go cs.heartbeatLoop(connCtx)

	err := c.Serve(connCtx, cs)
	name := cs.teardown()

	reason := "graceful"
	switch {
	case cs.wasExpired():
		reason = "expired"
	case err == nil:
	case errors.Is(err, session.ErrAbruptClose):
		reason = "abrupt"
	default:
		reason = "protocol_error"
	}
	remaining := s.activeClients.Add(-1)
	observability.SessionClosed(reason)

	event := log.Info()
	if reason != "graceful" {
		event = log.Warn().Err(err)
	}
	event.
		Str("session", c.ID()).
		Str("username", name).
		Str("remote", remote).
		Str("reason", reason).
		Int64("active_clients", remaining).
		Msg("server.session client disconnected")
}

func (s *Service) trackConn(c *session.Conn) {
	s.connsMu.Lock()
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Service) untrackConn(c *session.Conn) {
	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	conns := make([]*session.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *Service) serveAdmin(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.AdminRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("server.Service admin listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
