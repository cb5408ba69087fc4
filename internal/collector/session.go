package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/tracectl/internal/admin"
	"github.com/danmuck/tracectl/internal/observability"
	"github.com/danmuck/tracectl/internal/protocol/session"
	"github.com/danmuck/tracectl/internal/transport"
)

// HandleSession drives one recorder connection to completion: init
// exchange, per-CPU data intake, metadata collection, and the goodbye.
// The admin WebSocket intake calls this directly with an adapted stream.
func (s *Service) HandleSession(ctx context.Context, conn net.Conn) {
	s.trackConn(conn)
	defer s.untrackConn(conn)
	defer conn.Close()

	remote := remoteLabel(conn)
	active := s.clientCount.Add(1)
	log.Info().Str("remote", remote).Int64("active_clients", active).Msg("recorder connected")
	defer func() {
		remaining := s.clientCount.Add(-1)
		log.Info().Str("remote", remote).Int64("active_clients", remaining).Msg("recorder disconnected")
	}()

	id := s.seq.Add(1)
	s.openSession(id, remote)

	_, span := observability.StartSpan(ctx, "collector.session",
		attribute.String("remote", remote),
		attribute.Int64("session_id", int64(id)))
	err := s.runSession(id, remote, conn)
	observability.EndSpan(span, err)

	if err != nil {
		s.updateSession(id, func(st *admin.SessionStatus) { st.State = admin.SessionStateFailed })
		log.Warn().Err(err).Str("remote", remote).Uint64("session", id).Msg("session failed")
		return
	}
	s.updateSession(id, func(st *admin.SessionStatus) { st.State = admin.SessionStateDone })
}

func (s *Service) runSession(id uint64, remote string, conn net.Conn) error {
	h := session.NewServerHandle(conn, s.cfg.Session)
	defer h.Close()

	pageSize, err := h.ServerInit()
	if err != nil {
		return err
	}
	cpus := h.CPUCount()
	if cpus > s.cfg.MaxCPUs {
		return fmt.Errorf("collector: recorder advertised %d cpus, limit is %d", cpus, s.cfg.MaxCPUs)
	}
	s.updateSession(id, func(st *admin.SessionStatus) {
		st.CPUs = cpus
		st.PageSize = pageSize
		st.UseTCP = h.UseTCP()
		st.State = admin.SessionStateStreaming
	})

	block, err := transport.BindPorts(s.cfg.DataHost, cpus)
	if err != nil {
		return err
	}
	defer block.Close()

	out, err := s.openOutput(id, remote)
	if err != nil {
		return err
	}
	defer out.Close()

	// CPU intake runs ahead of the port announcement so every listener
	// is accepting before the recorder learns its port.
	var g errgroup.Group
	for cpu := 0; cpu < block.Len(); cpu++ {
		cpu := cpu
		ln := block.Listener(cpu)
		g.Go(func() error {
			return s.intakeCPU(id, cpu, ln, out.cpuPath(cpu))
		})
	}
	intakeErr := make(chan error, 1)
	go func() {
		err := g.Wait()
		h.SetDone()
		intakeErr <- err
	}()

	if err := h.SendPorts(block.Ports()); err != nil {
		block.Close()
		<-intakeErr
		return err
	}

	n, err := h.Collect(out.trace)
	s.updateSession(id, func(st *admin.SessionStatus) { st.Bytes += n })
	block.Close()
	if err != nil {
		<-intakeErr
		return err
	}
	if err := <-intakeErr; err != nil {
		return err
	}

	log.Info().
		Uint64("session", id).
		Str("dir", out.dir).
		Int64("metadata_bytes", n).
		Msg("collection complete")
	return nil
}

// intakeCPU accepts the single data connection for one CPU and copies
// its stream to disk. A listener closed before any connection arrives
// means the recorder never dialed that port, which is not an error.
func (s *Service) intakeCPU(id uint64, cpu int, ln net.Listener, path string) error {
	conn, err := ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	}
	s.trackConn(conn)
	defer s.untrackConn(conn)
	defer conn.Close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := io.Copy(f, conn)
	observability.RecordCPUIntake(cpu, n)
	s.updateSession(id, func(st *admin.SessionStatus) { st.Bytes += n })
	if err != nil {
		return err
	}
	log.Debug().
		Uint64("session", id).
		Int("cpu", cpu).
		Int64("bytes", n).
		Msg("cpu stream complete")
	return nil
}

// sessionOutput is the on-disk layout for one session: a directory
// holding the metadata stream and one raw file per CPU.
type sessionOutput struct {
	dir   string
	trace *os.File
}

func (s *Service) openOutput(id uint64, remote string) (*sessionOutput, error) {
	dir := filepath.Join(s.cfg.OutputDir, fmt.Sprintf("trace-%s-%d", sanitizeRemote(remote), id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(dir, "trace.dat"))
	if err != nil {
		return nil, err
	}
	return &sessionOutput{dir: dir, trace: f}, nil
}

func (o *sessionOutput) cpuPath(cpu int) string {
	return filepath.Join(o.dir, fmt.Sprintf("cpu%d.raw", cpu))
}

func (o *sessionOutput) Close() error {
	return o.trace.Close()
}

var remoteSanitizer = strings.NewReplacer(":", "-", "/", "_", "%", "_")

func sanitizeRemote(remote string) string {
	return remoteSanitizer.Replace(remote)
}

func remoteLabel(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
