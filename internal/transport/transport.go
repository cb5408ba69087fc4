// Package transport owns how trace sessions reach the wire: TCP and
// unix-socket dial/listen, per-CPU data listener blocks, and the
// WebSocket stream adapter.
package transport

import (
	"context"
	"net"
	"strings"
	"time"
)

// DialContext connects to a relay control endpoint. Supported address
// forms:
//
//	host:port          TCP
//	unix:///run/x.sock unix domain socket
//	ws://host/trace    WebSocket (also wss://)
func DialContext(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	switch {
	case strings.HasPrefix(addr, "ws://"), strings.HasPrefix(addr, "wss://"):
		return DialWS(ctx, addr, timeout)
	case strings.HasPrefix(addr, "unix://"):
		d := net.Dialer{Timeout: timeout}
		return d.DialContext(ctx, "unix", strings.TrimPrefix(addr, "unix://"))
	default:
		d := net.Dialer{Timeout: timeout}
		return d.DialContext(ctx, "tcp", addr)
	}
}

// Listen binds the relay control endpoint. WebSocket intake is served by
// the admin HTTP layer, not here.
func Listen(addr string) (net.Listener, error) {
	if strings.HasPrefix(addr, "unix://") {
		return net.Listen("unix", strings.TrimPrefix(addr, "unix://"))
	}
	return net.Listen("tcp", addr)
}
