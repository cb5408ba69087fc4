// Package recorder runs the client side of trace collection: it dials a
// relay, negotiates the session, and ships per-CPU data and metadata.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/tracectl/internal/observability"
	"github.com/danmuck/tracectl/internal/protocol/session"
	"github.com/danmuck/tracectl/internal/transport"
)

var (
	ErrAddressRequired = errors.New("recorder: relay address required")
	ErrPortMismatch    = errors.New("recorder: relay port count does not match cpu count")
)

// Config carries connection policy for a recorder client.
type Config struct {
	// Address of the relay control endpoint. TCP host:port, ws://,
	// wss://, and unix:// forms are accepted.
	Address string

	Session session.Config

	// MaxConnectAttempts caps dial retries. Zero or less retries
	// forever.
	MaxConnectAttempts int
}

func DefaultConfig() Config {
	return Config{
		Session: session.DefaultConfig(),
	}
}

// Job is one shipment: an optional metadata stream plus one raw stream
// per CPU. The CPU count advertised to the relay is len(CPUStreams).
type Job struct {
	CPUStreams []io.Reader
	Metadata   io.Reader

	// PageSize advertised during init. Zero means the local page size.
	PageSize int
}

// Result reports what one job moved.
type Result struct {
	Ports         []int
	MetadataBytes int64
	CPUBytes      []int64
}

// Client dials relays and runs recording jobs against them.
type Client struct {
	cfg Config
	rng *rand.Rand
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Client{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Connect dials the relay with backoff and wraps the stream in a client
// handle. The caller owns the handle and must Close it.
func (c *Client) Connect(ctx context.Context) (*session.Handle, error) {
	var attempt int
	for {
		attempt++
		conn, err := transport.DialContext(ctx, c.cfg.Address, c.cfg.Session.ConnectTimeout)
		if err == nil {
			return session.NewClientHandle(conn, c.cfg.Session), nil
		}
		log.Warn().
			Int("attempt", attempt).
			Str("addr", c.cfg.Address).
			Err(err).
			Msg("relay dial failed")
		if !c.shouldRetry(attempt) {
			return nil, err
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

// Run executes one job end to end: init exchange, concurrent CPU and
// metadata streaming, then the goodbye.
func (c *Client) Run(ctx context.Context, job Job) (Result, error) {
	_, span := observability.StartSpan(ctx, "recorder.session",
		attribute.String("addr", c.cfg.Address),
		attribute.Int("cpus", len(job.CPUStreams)))
	res, err := c.run(ctx, job)
	observability.EndSpan(span, err)
	return res, err
}

func (c *Client) run(ctx context.Context, job Job) (Result, error) {
	var res Result

	pageSize := job.PageSize
	if pageSize <= 0 {
		pageSize = os.Getpagesize()
	}
	cpus := len(job.CPUStreams)

	h, err := c.Connect(ctx)
	if err != nil {
		return res, err
	}
	defer h.Close()

	ports, err := h.ClientInit(cpus, pageSize)
	if err != nil {
		return res, err
	}
	if len(ports) != cpus {
		return res, fmt.Errorf("%w: got %d ports for %d cpus", ErrPortMismatch, len(ports), cpus)
	}
	res.Ports = ports
	res.CPUBytes = make([]int64, cpus)
	log.Debug().Ints("ports", ports).Msg("relay ports received")

	host := dataHost(c.cfg.Address)
	var g errgroup.Group
	for cpu := 0; cpu < cpus; cpu++ {
		cpu := cpu
		src := job.CPUStreams[cpu]
		g.Go(func() error {
			n, err := c.streamCPU(ctx, host, ports[cpu], src)
			res.CPUBytes[cpu] = n
			return err
		})
	}

	// Metadata goes out on the control channel while the CPU streams
	// run, so the relay's collect loop sees traffic right away.
	g.Go(func() error {
		if job.Metadata != nil {
			n, err := h.SendStream(job.Metadata)
			res.MetadataBytes = n
			if err != nil {
				return err
			}
		}
		return h.FinishSend()
	})

	streamErr := g.Wait()
	h.SendClose()
	if err := h.Close(); err != nil && streamErr == nil {
		streamErr = err
	}
	return res, streamErr
}

// streamCPU dials one data port and copies src into it. Closing the
// connection is what tells the relay the stream is complete.
func (c *Client) streamCPU(ctx context.Context, host string, port int, src io.Reader) (int64, error) {
	d := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", transport.JoinHostPort(host, port))
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	return io.Copy(conn, src)
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := c.cfg.Session.Backoff.Delay(attempt, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// dataHost extracts the host recorders dial for per-CPU data ports.
func dataHost(addr string) string {
	switch {
	case strings.HasPrefix(addr, "ws://"), strings.HasPrefix(addr, "wss://"):
		if u, err := url.Parse(addr); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
		return "127.0.0.1"
	case strings.HasPrefix(addr, "unix://"):
		return "127.0.0.1"
	default:
		host, _, err := net.SplitHostPort(addr)
		if err != nil || host == "" {
			return "127.0.0.1"
		}
		return host
	}
}
