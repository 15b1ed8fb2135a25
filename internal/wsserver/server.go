// Package wsserver is BAP's transport layer: it accepts WebSocket
// connections, decodes/encodes the JSON-RPC wire frames defined in
// internal/protocol, and drives every frame through an
// internal/dispatcher.Dispatcher. It also exposes /health and /metrics
// over plain HTTP via echo.
//
// Grounded on two familiar shapes: the echo server bootstrap
// (middleware, /health route, graceful Shutdown) follows
// cmd/hub/main.go's pattern from the Watchdog pack repo, and the
// connection lifecycle (origin check, per-IP connection cap, read/write
// pumps with ping/pong keepalive) follows Watchdog's
// internal/adapters/http/handlers/ws_handler.go and
// internal/core/realtime/client.go, adapted from Watchdog's agent-auth
// handshake to BAP's initialize-then-dispatch model.
package wsserver

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/browseragentprotocol/bap/internal/audit"
	"github.com/browseragentprotocol/bap/internal/dispatcher"
	"github.com/browseragentprotocol/bap/internal/protocol"
	"github.com/browseragentprotocol/bap/internal/session"
)

// defaultMaxConnsPerIP caps concurrent WebSocket connections from a
// single remote address when Config.MaxConnectionsPerIP is unset,
// mirroring Watchdog's H-005 guard.
const defaultMaxConnsPerIP = 10

// Config controls the listener's security posture. Every field has a
// safe zero value: empty AuthToken/AllowedOrigins disable those checks.
type Config struct {
	Addr string
	AuthToken string // if set, required via the Authorization/X-BAP-Auth-Token/X-BAP-Token header or ?token= query param
	AllowedOrigins []string // empty means "same-origin or no Origin header only"
	MaxFrameSize int64 // 0 falls back to protocol.MaxFrameSize
	ReadTimeout time.Duration // idle-read deadline (pong/frame wait); 0 falls back to defaultPongWait
	MaxConnectionsPerIP int // 0 falls back to defaultMaxConnsPerIP
	RequireTLS bool // reject upgrades whose request did not arrive over TLS (directly or via a trusted X-Forwarded-Proto)
}

func (c Config) maxConnsPerIP() int {
	if c.MaxConnectionsPerIP > 0 {
		return c.MaxConnectionsPerIP
	}
	return defaultMaxConnsPerIP
}

// defaultPongWait is the idle-read deadline when Config.ReadTimeout is unset.
const defaultPongWait = 60 * time.Second

// pongWait returns the configured idle-read deadline, and pingPeriod the
// keepalive ping interval derived from it (9/10ths, same ratio Watchdog's
// realtime.Client uses between pingPeriod and pongWait).
func (s *Server) pongWait() time.Duration {
	if s.cfg.ReadTimeout > 0 {
		return s.cfg.ReadTimeout
	}
	return defaultPongWait
}

func (s *Server) pingPeriod() time.Duration {
	return s.pongWait() * 9 / 10
}

// Server owns the echo instance, the method dispatcher, and every live
// connection's notification channel.
type Server struct {
	cfg Config
	disp *dispatcher.Dispatcher
	sessns *session.Manager
	trail *audit.Trail
	log *zap.Logger
	echo *echo.Echo
	start time.Time

	connMu sync.Mutex
	byIP map[string]int
	bySession map[string]*conn

	reqTotal atomicCounter
	errTotal atomicCounter
}

// New constructs a Server. disp must already have every BAP method
// registered; sessns is used only to look up/close sessions on
// disconnect, never to dispatch directly. trail, if non-nil, receives the
// connection-level security events (auth, origin, connection-limit, TLS)
// that never flow through a dispatched method call.
func New(cfg Config, disp *dispatcher.Dispatcher, sessns *session.Manager, trail *audit.Trail, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = protocol.MaxFrameSize
	}
	s := &Server{
		cfg: cfg,
		disp: disp,
		sessns: sessns,
		trail: trail,
		log: log.Named("wsserver"),
		start: time.Now(),
		byIP: make(map[string]int),
		bySession: make(map[string]*conn),
	}
	s.echo = s.newEcho()
	return s
}

// record appends a connection-level security event to the audit trail
// (if configured), outside of any dispatched call.
func (s *Server) record(event string, detail string) {
	if s.trail == nil {
		return
	}
	s.trail.Record(audit.Entry{Method: "connection", Event: event, ErrorMessage: detail})
}

func (s *Server) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.securityHeaders)
	if s.cfg.RequireTLS {
		e.Use(s.requireTLS)
	}
	if s.cfg.AuthToken != "" {
		e.Use(s.requireAuthToken)
	}

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", s.handleMetrics)
	e.GET("/ws", s.handleWS)
	return e
}

// requireTLS rejects any request that did not arrive over TLS, either
// directly (r.TLS != nil) or via a trusted terminating proxy
// (X-Forwarded-Proto: https), letting /health through for a plain-HTTP
// load balancer probe.
func (s *Server) requireTLS(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Path() == "/health" {
			return next(c)
		}
		r := c.Request()
		if r.TLS == nil && !strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			s.record(audit.EventTLSRequired, c.Path())
			return c.JSON(http.StatusUpgradeRequired, map[string]string{"error": "TLS required"})
		}
		return next(c)
	}
}

// securityHeaders sets the fixed response headers every BAP endpoint
// returns, mirroring csp.go header set narrowed to what a
// WebSocket control-plane server (no HTML pages of its own) needs.
func (s *Server) securityHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		return next(c)
	}
}

// requireAuthToken enforces Config.AuthToken via constant-time comparison,
// the same primitive as AuthMiddleware in cmd/dev-console/auth.go.
func (s *Server) requireAuthToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Path() == "/health" {
			return next(c)
		}
		provided := bearerToken(c.Request())
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AuthToken)) != 1 {
			s.record(audit.EventAuthFailed, c.RealIP())
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		s.record(audit.EventAuthSuccess, c.RealIP())
		return next(c)
	}
}

// bearerToken extracts the caller-presented auth token, checking (in
// order) the X-BAP-Auth-Token header, the X-BAP-Token header, an
// Authorization: Bearer header, and finally the ?token= query parameter
// (the only option available to a WebSocket client that cannot set
// arbitrary headers on the upgrade request).
func bearerToken(r *http.Request) string {
	if v := r.Header.Get("X-BAP-Auth-Token"); v != "" {
		return v
	}
	if v := r.Header.Get("X-BAP-Token"); v != "" {
		return v
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
			"status": "ok",
			"uptime_seconds": time.Since(s.start).Seconds(),
			"active_sessions": s.sessns.Count(),
			"active_ws_conns": s.connCount(),
	})
}

func (s *Server) handleMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
			"uptime_seconds": time.Since(s.start).Seconds(),
			"active_sessions": s.sessns.Count(),
			"active_ws_conns": s.connCount(),
			"requests_total": s.reqTotal.Load(),
			"errors_total": s.errTotal.Load(),
	})
}

func (s *Server) connCount() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.bySession)
}

// ListenAndServe starts the HTTP/WebSocket listener. It blocks until ctx
// is cancelled, then performs a graceful Shutdown, the same
// start-in-goroutine/Shutdown-on-signal split as cmd/hub/main.go.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.cfg.Addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// CloseExpired closes sessionID's live connection (if any) with a 1008
// Policy Violation close code and a machine-readable reason, in response
// to session.Manager's background sweep evicting it for idle/lifetime
// expiry. A session with no live connection is still recorded, so the
// audit trail reflects the expiry even if the client had already
// disconnected.
func (s *Server) CloseExpired(sessionID string) {
	s.record(audit.EventSessionExpired, sessionID)

	s.connMu.Lock()
	c, ok := s.bySession[sessionID]
	if ok {
		delete(s.bySession, sessionID)
	}
	s.connMu.Unlock()
	if !ok {
		return
	}

	closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session expired")
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, closeMsg)
	c.close()
}

// Notify implements the handlers.Deps.Notify contract: it delivers a
// server-initiated notification to the connection owning sessionID, if
// one is still attached. A session with no live connection (already
// disconnected, notification racing teardown) is silently dropped.
func (s *Server) Notify(sessionID string, n protocol.Notification) {
	s.connMu.Lock()
	c, ok := s.bySession[sessionID]
	s.connMu.Unlock()
	if !ok {
		return
	}
	payload, err := protocol.Encode(n)
	if err != nil {
		s.log.Error("failed to encode notification", zap.Error(err))
		return
	}
	c.enqueue(payload)
}

type atomicCounter struct {
	mu sync.Mutex
	n int64
}

func (a *atomicCounter) Add(d int64) {
	a.mu.Lock()
	a.n += d
	a.mu.Unlock()
}

func (a *atomicCounter) Load() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}
