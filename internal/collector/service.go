// Package collector runs the relay side of trace collection: it accepts
// recorder sessions, negotiates per-CPU data ports, and lands the
// metadata and CPU streams in per-session output directories.
package collector

import (
	"context"
	"errors"
	"net"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/tracectl/internal/admin"
	"github.com/danmuck/tracectl/internal/observability"
	"github.com/danmuck/tracectl/internal/protocol/session"
	"github.com/danmuck/tracectl/internal/transport"
)

// Relay endpoint configuration.
type ServiceConfig struct {
	ListenAddr      string
	DataHost        string
	OutputDir       string
	AdminListenAddr string
	CORSOrigins     []string
	Session         session.Config

	// MaxCPUs caps the CPU count a recorder may advertise. A session
	// above the cap is rejected before any data listener is bound.
	// Zero or less falls back to the default.
	MaxCPUs int
}

// Relay defaults. Data listeners bind all interfaces so recorders can
// reach them on whichever address they dialed the control port.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:      ":8809",
		DataHost:        "",
		OutputDir:       "traces",
		AdminListenAddr: "",
		Session:         session.DefaultConfig(),
		MaxCPUs:         4096,
	}
}

// Service is the relay runtime: control accept loop, per-session
// handling, and status bookkeeping for the admin surface.
type Service struct {
	cfg ServiceConfig

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	sessionsMu sync.Mutex
	sessions   map[uint64]*admin.SessionStatus
	seq        atomic.Uint64

	clientCount atomic.Int64
}

// Relay constructor using default configuration.
func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

// Relay constructor using explicit configuration.
func NewServiceWithConfig(cfg ServiceConfig) *Service {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = DefaultServiceConfig().ListenAddr
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		cfg.OutputDir = DefaultServiceConfig().OutputDir
	}
	if cfg.MaxCPUs <= 0 {
		cfg.MaxCPUs = DefaultServiceConfig().MaxCPUs
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Service{
		cfg:      cfg,
		conns:    make(map[net.Conn]struct{}),
		sessions: make(map[uint64]*admin.SessionStatus),
	}
}

// Run is the relay entrypoint. It blocks until signal shutdown or a
// serve failure.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observability.RegisterMetrics()

	ln, err := transport.Listen(s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("relay listening")

	controlErr := make(chan error, 1)
	if strings.TrimSpace(s.cfg.AdminListenAddr) != "" {
		srv := admin.New(admin.Config{
			ListenAddr:  strings.TrimSpace(s.cfg.AdminListenAddr),
			CORSOrigins: s.cfg.CORSOrigins,
		}, s)
		go func() {
			controlErr <- srv.Run(ctx)
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()
	select {
	case err := <-serveErr:
		return err
	case err := <-controlErr:
		if err != nil {
			return err
		}
		return <-serveErr
	}
}

// Serve accepts recorder sessions on an existing listener until ctx is
// canceled.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.HandleSession(ctx, conn)
	}
}

// Connection-tracking add operation for coordinated shutdown.
func (s *Service) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

// Connection-tracking remove operation after connection teardown.
func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

// Shutdown helper that closes and drains tracked active connections.
func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}
