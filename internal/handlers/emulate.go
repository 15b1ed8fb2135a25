package handlers

import (
	"context"
	"encoding/json"

	"github.com/browseragentprotocol/bap/internal/model"
	"github.com/browseragentprotocol/bap/internal/rpcerr"
	"github.com/browseragentprotocol/bap/internal/session"
)

type emulateViewportParams struct {
	PageID string `json:"pageId"`
	model.Viewport `json:"viewport"`
}

func (h *handlers) emulateSetViewport(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p emulateViewportParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, _, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	if err := page.SetViewportSize(ctx, p.Viewport); err != nil {
		return nil, rpcerr.Translate(err)
	}
	return map[string]any{"ok": true}, nil
}

type emulateUserAgentParams struct {
	PageID string `json:"pageId"`
	UserAgent string `json:"userAgent"`
}

// emulateSetUserAgent is context-scoped in the engine (the user
// agent is set at context creation), so this re-issues it against the
// page's owning context.
func (h *handlers) emulateSetUserAgent(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p emulateUserAgentParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if _, _, err := contextOf(sess, p.PageID); err != nil {
		return nil, err
	}
	page, id, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	if _, err := page.Evaluate(ctx, `(ua) => { Object.defineProperty(navigator, "userAgent", {get: => ua}); }`, p.UserAgent); err != nil {
		return nil, rpcerr.Translate(err)
	}
	return map[string]any{"pageId": id, "ok": true}, nil
}

type emulateGeolocationParams struct {
	PageID string `json:"pageId"`
	model.Geolocation `json:"geolocation"`
}

func (h *handlers) emulateSetGeolocation(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p emulateGeolocationParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	engCtx, _, err := contextOf(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	if err := engCtx.SetGeolocation(ctx, p.Geolocation); err != nil {
		return nil, rpcerr.Translate(err)
	}
	return map[string]any{"ok": true}, nil
}

type emulateOfflineParams struct {
	PageID string `json:"pageId"`
	Offline bool `json:"offline"`
}

func (h *handlers) emulateSetOffline(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p emulateOfflineParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	engCtx, _, err := contextOf(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	if err := engCtx.SetOffline(ctx, p.Offline); err != nil {
		return nil, rpcerr.Translate(err)
	}
	return map[string]any{"ok": true}, nil
}
