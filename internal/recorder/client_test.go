package recorder

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/tracectl/internal/protocol/session"
	"github.com/danmuck/tracectl/internal/testutil/testlog"
)

func TestNewRequiresAddress(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
	if _, err := New(Config{Address: "   "}); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
}

func TestNewAppliesSessionDefaults(t *testing.T) {
	c, err := New(Config{Address: "127.0.0.1:8809"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if c.cfg.Session.ReceiveTimeout != 5*time.Second {
		t.Fatalf("unexpected receive timeout: %v", c.cfg.Session.ReceiveTimeout)
	}
	if c.cfg.Session.Backoff.InitialDelay == 0 {
		t.Fatalf("expected backoff defaults")
	}
}

func TestDataHost(t *testing.T) {
	cases := []struct {
		addr string
		want string
	}{
		{addr: "127.0.0.1:8809", want: "127.0.0.1"},
		{addr: "relay.local:8809", want: "relay.local"},
		{addr: "[::1]:8809", want: "::1"},
		{addr: "ws://relay.local:8810/trace", want: "relay.local"},
		{addr: "wss://relay.local/trace", want: "relay.local"},
		{addr: "unix:///tmp/relay.sock", want: "127.0.0.1"},
		{addr: "nonsense", want: "127.0.0.1"},
	}
	for _, tc := range cases {
		if got := dataHost(tc.addr); got != tc.want {
			t.Fatalf("dataHost(%q) = %q, want %q", tc.addr, got, tc.want)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	forever, err := New(Config{Address: "x:1"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if !forever.shouldRetry(100) {
		t.Fatalf("expected unlimited retries when attempts unset")
	}

	capped, err := New(Config{Address: "x:1", MaxConnectAttempts: 3})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if !capped.shouldRetry(1) || !capped.shouldRetry(2) {
		t.Fatalf("expected retries below the cap")
	}
	if capped.shouldRetry(3) {
		t.Fatalf("expected no retry at the cap")
	}
}

func TestConnectFailsAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c, err := New(Config{
		Address:            addr,
		MaxConnectAttempts: 2,
		Session: session.Config{
			ConnectTimeout: 200 * time.Millisecond,
			Backoff: session.BackoffConfig{
				InitialDelay: time.Millisecond,
				Multiplier:   1,
				MaxDelay:     time.Millisecond,
			},
		},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := c.Connect(ctx); err == nil {
		t.Fatalf("expected dial failure")
	}
}

func TestConnectHonorsContextCancel(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c, err := New(Config{
		Address: addr,
		Session: session.Config{
			ConnectTimeout: 100 * time.Millisecond,
			Backoff: session.BackoffConfig{
				InitialDelay: time.Hour,
				Multiplier:   1,
				MaxDelay:     time.Hour,
			},
		},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Connect(ctx)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("connect did not return after cancel")
	}
}
