package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danmuck/tracectl/internal/observability"
	"github.com/danmuck/tracectl/internal/protocol"
	"github.com/danmuck/tracectl/internal/testutil/testlog"
)

type stubRelay struct {
	sessions []SessionStatus
	handled  chan protocol.Command
}

func (s *stubRelay) SnapshotSessions() []SessionStatus { return s.sessions }

func (s *stubRelay) HandleSession(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	m, err := protocol.ReadMessage(conn)
	if err != nil {
		s.handled <- protocol.Command(0xFFFF)
		return
	}
	s.handled <- m.Header.Cmd
}

func newTestServer(relay *stubRelay) *Server {
	return New(Config{ListenAddr: "127.0.0.1:0"}, relay)
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(&stubRelay{})

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		s.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d body=%s", path, rr.Code, rr.Body.String())
		}
	}
}

func TestSessionsEndpoint(t *testing.T) {
	testlog.Start(t)
	relay := &stubRelay{
		sessions: []SessionStatus{
			{ID: 1, Remote: "10.0.0.4:51112", State: SessionStateDone, CPUs: 2, Bytes: 4096},
			{ID: 2, Remote: "10.0.0.5:41882", State: SessionStateStreaming, CPUs: 8},
		},
	}
	s := newTestServer(relay)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		Sessions []SessionStatus `json:"sessions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(body.Sessions))
	}
	if body.Sessions[0].State != SessionStateDone || body.Sessions[1].CPUs != 8 {
		t.Fatalf("unexpected sessions: %+v", body.Sessions)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(&stubRelay{})
	observability.SessionOpened("server")
	defer observability.SessionClosed("server")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "tracectl_sessions_active") {
		t.Fatalf("metrics body missing session gauge")
	}
}

// The trace route upgrades the request and hands the stream to the
// relay as a regular protocol connection.
func TestTraceIntakeUpgrades(t *testing.T) {
	testlog.Start(t)
	relay := &stubRelay{handled: make(chan protocol.Command, 1)}
	s := newTestServer(relay)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/trace"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	frame := protocol.EncodeHeader(protocol.Header{Size: protocol.HeaderLen, Cmd: protocol.CmdClose})
	if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case cmd := <-relay.handled:
		if cmd != protocol.CmdClose {
			t.Fatalf("relay saw cmd %s", cmd.Name())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("relay never received the session")
	}
}
