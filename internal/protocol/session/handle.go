package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/tracectl/internal/observability"
	"github.com/danmuck/tracectl/internal/protocol"
)

var (
	ErrAborted   = errors.New("session: connection aborted by peer")
	ErrNotServer = errors.New("session: server-only operation")
)

// Role tags which side of the exchange a handle drives.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Conn is the duplex stream a handle owns: the protocol byte stream plus
// close. net.Conn satisfies it.
type Conn interface {
	protocol.Conn
	Close() error
}

// Handle is one end of a trace control connection. It carries the
// negotiated CPU count and transport options; the completion flag exists
// on server handles only.
type Handle struct {
	conn Conn
	cfg  Config
	role Role
	log  zerolog.Logger

	mu        sync.Mutex
	closeOnce sync.Once
	cpuCount  int
	useTCP    bool
	done      atomic.Bool
}

func newHandle(conn Conn, cfg Config, role Role) *Handle {
	cfg = cfg.WithDefaults()
	h := &Handle{
		conn: conn,
		cfg:  cfg,
		role: role,
		log:  log.With().Str("role", role.String()).Logger(),
	}
	if role == RoleClient && cfg.UseTCP {
		h.useTCP = true
	}
	observability.SessionOpened(role.String())
	return h
}

// NewClientHandle wraps conn as the recorder end of a session.
func NewClientHandle(conn Conn, cfg Config) *Handle {
	return newHandle(conn, cfg, RoleClient)
}

// NewServerHandle wraps conn as the relay end of a session.
func NewServerHandle(conn Conn, cfg Config) *Handle {
	return newHandle(conn, cfg, RoleServer)
}

func (h *Handle) Role() Role { return h.role }

// CPUCount reports the CPU count negotiated during init.
func (h *Handle) CPUCount() int { return h.cpuCount }

// UseTCP reports whether the TCP data-transport option is in effect.
func (h *Handle) UseTCP() bool { return h.useTCP }

// Done reports the completion flag collaborators use to stop the
// post-data drain. Always false on client handles.
func (h *Handle) Done() bool {
	if h.role != RoleServer {
		return false
	}
	return h.done.Load()
}

// SetDone marks the session complete. No-op on client handles.
func (h *Handle) SetDone() {
	if h.role != RoleServer {
		h.log.Error().Msg("done flag is server-only")
		return
	}
	h.done.Store(true)
}

// Close tears the connection down. Safe to call more than once.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		observability.SessionClosed(h.role.String())
		err = h.conn.Close()
	})
	return err
}

// SendClose tells the peer we are finished. Best effort: delivery
// failures are logged, never returned.
func (h *Handle) SendClose() {
	if err := h.send(protocol.NewClose()); err != nil {
		h.log.Debug().Err(err).Msg("close message not delivered")
	}
}

func (h *Handle) send(m protocol.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := protocol.WriteMessage(h.conn, m); err != nil {
		observability.RecordSessionError(errorKind(err))
		return err
	}
	observability.RecordMessageSent(m.Header.Cmd.Name(), int(m.Header.Size))
	return nil
}

func (h *Handle) receive(timeout time.Duration) (protocol.Message, error) {
	m, err := protocol.ReadMessageWait(h.conn, timeout)
	if err != nil {
		observability.RecordSessionError(errorKind(err))
		return protocol.Message{}, err
	}
	observability.RecordMessageReceived(m.Header.Cmd.Name(), int(m.Header.Size))
	return m, nil
}

// waitForMessage waits for the next peer message, honoring the
// configured timeout. A CLOSE from the peer surfaces as ErrAborted.
func (h *Handle) waitForMessage() (protocol.Message, error) {
	m, err := h.receive(h.cfg.waitTimeout())
	if err != nil {
		if errors.Is(err, protocol.ErrTimeout) {
			h.log.Warn().Msg("connection timed out")
		}
		return protocol.Message{}, err
	}
	if m.Header.Cmd == protocol.CmdClose {
		observability.RecordSessionError("aborted")
		return protocol.Message{}, ErrAborted
	}
	return m, nil
}

func (h *Handle) ensureServer() error {
	if h.role != RoleServer {
		return ErrNotServer
	}
	return nil
}

// errorOperation logs the offending message the way the relay reports
// every rejected client operation.
func (h *Handle) errorOperation(m protocol.Message) {
	h.log.Warn().
		Uint32("cmd", uint32(m.Header.Cmd)).
		Str("name", m.Header.Cmd.Name()).
		Uint32("size", m.Header.Size).
		Msg("unexpected message")
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrTimeout):
		return "timeout"
	case errors.Is(err, protocol.ErrMalformed):
		return "malformed"
	case errors.Is(err, protocol.ErrConnectionClosed):
		return "closed"
	case errors.Is(err, ErrAborted):
		return "aborted"
	case errors.Is(err, protocol.ErrUnexpectedCommand),
		errors.Is(err, protocol.ErrUnknownCommand),
		errors.Is(err, protocol.ErrUnknownOption):
		return "protocol"
	default:
		return "io"
	}
}
