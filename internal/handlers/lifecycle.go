package handlers

import (
	"context"
	"encoding/json"

	"github.com/browseragentprotocol/bap/internal/policy"
	"github.com/browseragentprotocol/bap/internal/protocol"
	"github.com/browseragentprotocol/bap/internal/rpcerr"
	"github.com/browseragentprotocol/bap/internal/session"
)

// initializeParams mirrors the initialize handshake payload.
type initializeParams struct {
	ClientName string `json:"clientName"`
	ClientVersion string `json:"clientVersion"`
	ProtocolVersion string `json:"protocolVersion"`
	Scopes []string `json:"scopes"`
}

type initializeResult struct {
	SessionID string `json:"sessionId"`
	ProtocolVersion string `json:"protocolVersion"`
	Scopes []string `json:"scopes"`
}

// initialize has RequiresSession=false in the method table (dispatcher.go),
// so sess is always nil here; the session is created as a side effect of a
// successful handshake and its ID returned to the caller, who must supply
// it as the connection's sessionID on every subsequent frame.
func (h *handlers) initialize(ctx context.Context, _ *session.Session, params json.RawMessage) (any, error) {
	var p initializeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ProtocolVersion != "" && !majorCompatible(p.ProtocolVersion, protocol.Version) {
		return nil, rpcerr.New(rpcerr.CodeInvalidRequest, "protocol major version mismatch")
	}

	// Scopes are derived entirely from server configuration
	// (h.d.DefaultScopes, resolved at startup from BAP_SCOPES or
	// BAP_SCOPE_PROFILE); p.Scopes is accepted on the wire but never
	// consulted, so a client cannot self-grant authority.
	sess := h.d.Sessions.Create(cloneScopes(h.d.DefaultScopes))
	sess.ClientName = p.ClientName
	sess.ClientVersion = p.ClientVersion

	return initializeResult{
		SessionID: sess.ID,
		ProtocolVersion: protocol.Version,
		Scopes: policy.GrantedList(sess.Scopes),
	}, nil
}

func cloneScopes(src map[policy.Scope]bool) map[policy.Scope]bool {
	out := make(map[policy.Scope]bool, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// majorCompatible checks that server and client agree on
// the major component; a lower server minor is only a warning, not a
// rejection, so this checks major alone.
func majorCompatible(client, server string) bool {
	return majorOf(client) == majorOf(server)
}

func majorOf(v string) string {
	for i := 0; i < len(v); i++ {
		if v[i] == '.' {
			return v[:i]
		}
	}
	return v
}

// shutdown tears down every resource the session owns: contexts (which
// cascade to pages), the browser, registry entries, and event
// subscriptions. The connection close itself is the wsserver's job.
func (h *handlers) shutdown(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	for _, ctxID := range sess.ContextIDs() {
		if engCtx, _, ok := sess.Context(ctxID); ok {
			for _, pageID := range sess.PageIDs(ctxID) {
				h.d.Registry.InvalidatePage(pageID)
			}
			_ = engCtx.Close(ctx)
		}
		sess.RemoveContext(ctxID)
	}
	if b := sess.Browser(); b != nil {
		_ = b.Close(ctx)
	}
	h.d.Events.UnsubscribeAll(sess.ID)
	sess.MarkClosed()
	return map[string]any{"ok": true}, nil
}

// notificationsInitialized is the client's post-initialize handshake ack
// (exempt from the request rate-limit dimension). It
// carries no state of its own.
func (h *handlers) notificationsInitialized(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	return map[string]any{"ok": true}, nil
}
