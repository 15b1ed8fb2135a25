// Package dispatcher implements BAP's method dispatch pipeline:
// a closed table mapping JSON-RPC method names to handler functions, with
// a fixed pre-handler pipeline run ahead of every call (initialized check,
// scope check, rate limit) and a fixed post-handler step (error
// translation to the wire taxonomy).
//
// Grounded on cmd/dev-console/handler.go: HandleRequest's
// notification short-circuit (ID nil → no response) and closed
// method-table lookup (mcpMethodHandlers) are carried over directly,
// generalized from a flat MCP tool dispatch to BAP's per-method handler
// table with an explicit guard pipeline standing in for dev-console's
// single checkToolRateLimit step.
package dispatcher

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/browseragentprotocol/bap/internal/audit"
	"github.com/browseragentprotocol/bap/internal/policy"
	"github.com/browseragentprotocol/bap/internal/protocol"
	"github.com/browseragentprotocol/bap/internal/ratelimit"
	"github.com/browseragentprotocol/bap/internal/rpcerr"
	"github.com/browseragentprotocol/bap/internal/session"
)

// Handler is one method's implementation. It receives the decoded params
// and returns a result (to be marshaled) or an error.
type Handler func(ctx context.Context, s *session.Session, params json.RawMessage) (any, error)

// Entry pairs a Handler with the metadata the pipeline needs to decide
// which guards apply.
type Entry struct {
	Handler Handler
	RequiresSession bool // false only for "initialize" itself
	RateLimitDimension string
}

// Dispatcher owns the closed method table and the shared guard
// instances every dispatched call passes through.
type Dispatcher struct {
	methods map[string]Entry
	sessions *session.Manager
	limiter *ratelimit.Limiter
	scopes *policy.ScopeChecker
	redactor *policy.Redactor
	trail *audit.Trail
	log *zap.Logger
}

// New constructs a Dispatcher. methods is copied, not retained, so
// callers may freely reuse the map they built it from.
func New(methods map[string]Entry, sessions *session.Manager, limiter *ratelimit.Limiter, scopes *policy.ScopeChecker, redactor *policy.Redactor, trail *audit.Trail, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	copied := make(map[string]Entry, len(methods))
	for k, v := range methods {
		copied[k] = v
	}
	return &Dispatcher{
		methods: copied,
		sessions: sessions,
		limiter: limiter,
		scopes: scopes,
		redactor: redactor,
		trail: trail,
		log: log.Named("dispatcher"),
	}
}

// Dispatch runs one decoded frame through the pipeline and returns the
// response to write, or nil for a notification (no response per JSON-RPC
// 2.0, ).
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, req protocol.Request) *protocol.Response {
	isNotification := req.IsNotification()

	entry, ok := d.methods[req.Method]
	if !ok {
		if isNotification {
			return nil
		}
		resp := rpcerr.ToFrame(req.ID, rpcerr.New(rpcerr.CodeMethodNotFound, "method not found: "+req.Method))
		return &resp
	}

	var sess *session.Session
	if entry.RequiresSession {
		s, found := d.sessions.Get(sessionID)
		if !found {
			if isNotification {
				return nil
			}
			resp := rpcerr.ToFrame(req.ID, rpcerr.New(rpcerr.CodeNotInitialized, "session is not initialized"))
			return &resp
		}
		sess = s
		sess.Touch()

		if err := d.scopes.Check(req.Method, sess.Scopes); err != nil {
			return d.respond(req, isNotification, nil, err)
		}
		if entry.RateLimitDimension != "" {
			if err := d.limiter.Allow(sessionID, entry.RateLimitDimension); err != nil {
				return d.respond(req, isNotification, nil, err)
			}
		}
	}

	auditCtx := audit.ContextWithEventCell(ctx)
	result, err := entry.Handler(auditCtx, sess, req.Params)
	resp := d.respond(req, isNotification, result, err)
	d.audit(sessionID, req, err, audit.EventFromContext(auditCtx))
	return resp
}

func (d *Dispatcher) respond(req protocol.Request, isNotification bool, result any, err error) *protocol.Response {
	if isNotification {
		return nil
	}
	if err != nil {
		translated := rpcerr.Translate(err)
		resp := rpcerr.ToFrame(req.ID, translated)
		return &resp
	}
	resp := protocol.NewResult(req.ID, result)
	return &resp
}

func (d *Dispatcher) audit(sessionID string, req protocol.Request, err error, handlerEvent string) {
	if d.trail == nil {
		return
	}
	entry := audit.Entry{
		SessionID: sessionID,
		Method: req.Method,
		Success: err == nil,
		Event: handlerEvent,
	}
	if d.redactor != nil {
		redacted, changed := d.redactor.RedactJSONWithFlag(req.Params)
		entry.Params = string(redacted)
		if changed && entry.Event == "" {
			entry.Event = audit.EventValueRedacted
		}
	} else {
		entry.Params = string(req.Params)
	}
	if err != nil {
		translated := rpcerr.Translate(err)
		entry.ErrorCode = int(translated.Code)
		entry.ErrorMessage = translated.Message
		if translated.AuditEvent != "" {
			entry.Event = translated.AuditEvent
		}
	}
	d.trail.Record(entry)
}
