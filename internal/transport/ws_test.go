package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danmuck/tracectl/internal/protocol"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoServer upgrades each request and copies the stream back through
// the net.Conn adapter.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWSConn(ws)
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSConnReadSpansMessages(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	conn, err := DialWS(context.Background(), wsURL(srv), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("abcd")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := conn.Write([]byte("ef")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Small reads must consume a message across calls and then move to
	// the next one.
	var got []byte
	buf := make([]byte, 2)
	for len(got) < 6 {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "abcdef" {
		t.Fatalf("stream mismatch: %q", got)
	}
}

func TestWSConnCarriesProtocolFrames(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	conn, err := DialWS(context.Background(), wsURL(srv), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	in := protocol.NewTInit(2, 4096, []protocol.Option{{ID: protocol.OptionUseTCP}})
	if err := protocol.WriteMessage(conn, in); err != nil {
		t.Fatalf("write message: %v", err)
	}
	out, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if out.Header.Cmd != protocol.CmdTInit || out.TInit.CPUs != 2 || out.TInit.PageSize != 4096 {
		t.Fatalf("frame mismatch: %+v", out)
	}
	opts, err := protocol.ParseOptions(out)
	if err != nil {
		t.Fatalf("parse options: %v", err)
	}
	if len(opts) != 1 || opts[0].ID != protocol.OptionUseTCP {
		t.Fatalf("options mismatch: %+v", opts)
	}
}

// Deadline expiry must surface as a net.Error with Timeout set, the
// contract the protocol wait helper relies on.
func TestWSConnReadDeadlineIsTimeout(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	conn, err := DialWS(context.Background(), wsURL(srv), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(30 * time.Millisecond)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	_, err = conn.Read(make([]byte, 1))
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected timeout net.Error, got %v", err)
	}
}

func TestWSConnCloseMapsToEOF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}))
	defer srv.Close()

	conn, err := DialWS(context.Background(), wsURL(srv), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, err = conn.Read(make([]byte, 1))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}
