// Package admin exposes the relay's HTTP surface: health and readiness,
// session status, prometheus metrics, and the WebSocket trace intake.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/tracectl/internal/observability"
	"github.com/danmuck/tracectl/internal/transport"
)

// Session lifecycle states reported by /sessions.
const (
	SessionStateHandshake = "handshake"
	SessionStateStreaming = "streaming"
	SessionStateDone      = "done"
	SessionStateFailed    = "failed"
)

// SessionStatus is one relay session as reported by /sessions.
type SessionStatus struct {
	ID        uint64    `json:"id"`
	Remote    string    `json:"remote"`
	State     string    `json:"state"`
	CPUs      int       `json:"cpus"`
	PageSize  int       `json:"page_size"`
	UseTCP    bool      `json:"use_tcp"`
	StartedAt time.Time `json:"started_at"`
	Bytes     int64     `json:"bytes"`
}

// Relay is the collector surface the admin endpoint fronts.
type Relay interface {
	SnapshotSessions() []SessionStatus
	HandleSession(ctx context.Context, conn net.Conn)
}

// Config shapes the admin endpoint.
type Config struct {
	ListenAddr  string
	CORSOrigins []string
}

// Server serves the relay admin endpoint.
type Server struct {
	cfg     Config
	relay   Relay
	router  *gin.Engine
	started time.Time
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func New(cfg Config, relay Relay) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestObserver("relay", log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		relay:   relay,
		router:  r,
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

// Router returns the underlying gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.started).String(),
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"uptime": time.Since(s.started).String(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"sessions": s.relay.SnapshotSessions(),
		})
	})

	s.router.GET("/trace", s.handleTrace)
}

// handleTrace upgrades the request and runs a full protocol session over
// the socket. The HTTP handler goroutine carries the session to its end.
func (s *Server) handleTrace(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("trace intake upgrade failed")
		return
	}
	s.relay.HandleSession(c.Request.Context(), transport.NewWSConn(ws))
}

// Run serves the endpoint until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.router,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("admin endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
