package wsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/browseragentprotocol/bap/internal/audit"
	"github.com/browseragentprotocol/bap/internal/protocol"
	"github.com/browseragentprotocol/bap/internal/rpcerr"
)

// writeWait is the time allowed to write one frame, the same constant
// Watchdog's realtime.Client uses (internal/core/realtime/client.go). The
// read-side idle deadline and ping period are configurable via
// Config.ReadTimeout (see Server.pongWait/pingPeriod).
const writeWait = 10 * time.Second

// conn is one live WebSocket connection. It has no sessionID until its
// first successful "initialize" call completes; requests issued before
// that must still flow through (dispatcher.Dispatch treats the empty
// sessionID as "no session" and initialize is the only method that
// tolerates that).
type conn struct {
	server *Server
	ws *websocket.Conn
	remoteIP string
	send chan []byte
	closeOnce sync.Once
	closeCh chan struct{}

	mu sync.Mutex
	sessionID string
}

func newConn(s *Server, ws *websocket.Conn, remoteIP string) *conn {
	return &conn{
		server: s,
		ws: ws,
		remoteIP: remoteIP,
		send: make(chan []byte, 64),
		closeCh: make(chan struct{}),
	}
}

func (c *conn) enqueue(payload []byte) {
	select {
	case c.send <- payload:
	case <-c.closeCh:
	default:
		c.server.log.Warn("dropping outbound frame, send buffer full", zap.String("remote_ip", c.remoteIP))
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
			close(c.closeCh)
			_ = c.ws.Close()
	})
}

func (c *conn) currentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// bindSession registers this connection under sessionID so Server.Notify
// can find it, called once after a successful initialize.
func (c *conn) bindSession(sessionID string) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()

	c.server.connMu.Lock()
	c.server.bySession[sessionID] = c
	c.server.connMu.Unlock()
}

// checkOrigin allows requests with no Origin header (native/programmatic
// clients) and requests whose Origin matches the request Host or an
// explicit allow-list entry, rejecting everything else — the same
// decision Watchdog's WSHandler.checkOrigin makes, without its
// browser-User-Agent heuristic (BAP has no first-party browser UI, so
// every client is expected to be a programmatic agent).
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		s.record(audit.EventOriginRejected, origin)
		return false
	}
	if u.Host == r.Host {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	s.record(audit.EventOriginRejected, origin)
	return false
}

func (s *Server) handleWS(c echo.Context) error {
	r := c.Request()
	ip := c.RealIP()

	s.connMu.Lock()
	if s.byIP[ip] >= s.cfg.maxConnsPerIP() {
		s.connMu.Unlock()
		s.record(audit.EventConnectionLimit, ip)
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "too many connections"})
	}
	s.byIP[ip]++
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		s.byIP[ip]--
		if s.byIP[ip] <= 0 {
			delete(s.byIP, ip)
		}
		s.connMu.Unlock()
	}()

	upgrader := websocket.Upgrader{
		ReadBufferSize: 4096,
		WriteBufferSize: 4096,
		CheckOrigin: s.checkOrigin,
	}
	ws, err := upgrader.Upgrade(c.Response(), r, nil)
	if err != nil {
		return err
	}

	cn := newConn(s, ws, ip)
	ws.SetReadLimit(s.cfg.MaxFrameSize)

	go cn.writePump()
	cn.readPump()
	return nil
}

// readPump decodes incoming frames and dispatches each one on its own
// goroutine, so a slow call (e.g. agent/act) never blocks the read loop
// or other in-flight calls on the same connection — unlike Watchdog's
// single-purpose agent link, a BAP client is expected to pipeline calls.
func (c *conn) readPump() {
	defer func() {
		c.teardownSession()
		c.close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(c.server.pongWait()))
	c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(c.server.pongWait()))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		req, decodeErr := protocol.Decode(data)
		if decodeErr != nil {
			resp := rpcerr.ToFrame(nil, rpcerr.New(rpcerr.CodeParseError, "invalid JSON-RPC frame"))
			c.writeResponse(&resp)
			continue
		}
		if req.HasMalformedID() {
			resp := rpcerr.ToFrame(nil, rpcerr.New(rpcerr.CodeInvalidRequest, "request id must be a string, number, or absent"))
			c.writeResponse(&resp)
			continue
		}

		go c.dispatch(req)
	}
}

func (c *conn) dispatch(req protocol.Request) {
	c.server.reqTotal.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	resp := c.server.disp.Dispatch(ctx, c.currentSessionID(), req)
	if resp == nil {
		return // notification: no response frame
	}
	if resp.Error != nil {
		c.server.errTotal.Add(1)
	} else if req.Method == "initialize" {
		c.captureSessionID(resp)
	}
	c.writeResponse(resp)
}

// captureSessionID pulls sessionId out of a successful initialize
// response so subsequent frames on this connection carry it into
// Dispatch, and so Server.Notify can find this connection by session.
func (c *conn) captureSessionID(resp *protocol.Response) {
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(resp.Result, &out); err != nil || out.SessionID == "" {
		return
	}
	c.bindSession(out.SessionID)
}

func (c *conn) writeResponse(resp *protocol.Response) {
	payload, err := protocol.Encode(resp)
	if err != nil {
		c.server.log.Error("failed to encode response", zap.Error(err))
		return
	}
	c.enqueue(payload)
}

// writePump owns every write to the underlying connection: all outbound
// traffic (responses and server-initiated notifications) funnels through
// the send channel so the socket is never written from two goroutines at
// once, following the same pattern as Watchdog's realtime.Client.writePump.
func (c *conn) writePump() {
	ticker := time.NewTicker(c.server.pingPeriod())
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closeCh:
			return
		}
	}
}

// teardownSession closes the session this connection owned (if any),
// cascading through session.Manager's onClose to release its browser and
// contexts, and unregisters the connection from Server.bySession.
func (c *conn) teardownSession() {
	id := c.currentSessionID()
	if id == "" {
		return
	}
	c.server.connMu.Lock()
	delete(c.server.bySession, id)
	c.server.connMu.Unlock()
	c.server.sessns.Close(id)
}
