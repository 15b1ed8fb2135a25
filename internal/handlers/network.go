package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/rpcerr"
	"github.com/browseragentprotocol/bap/internal/session"
)

type networkInterceptParams struct {
	PageID string `json:"pageId"`
	Enabled bool `json:"enabled"`
	Patterns []string `json:"patterns"`
}

// networkIntercept arms or disarms request interception on a page; once
// armed, every matching request blocks pending a network/fulfill,
// network/abort, or network/continue call against its requestId, which
// arrives to the caller via a network.request event.
func (h *handlers) networkIntercept(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p networkInterceptParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, _, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	if err := page.SetNetworkInterception(ctx, p.Enabled, p.Patterns); err != nil {
		return nil, rpcerr.Translate(err)
	}
	return map[string]any{"ok": true}, nil
}

type networkFulfillParams struct {
	PageID string `json:"pageId"`
	RequestID string `json:"requestId"`
	Status int `json:"status"`
	Headers map[string]string `json:"headers"`
	Body string `json:"body"` // base64-encoded
}

func (h *handlers) networkFulfill(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p networkFulfillParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, _, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	body, err := base64.StdEncoding.DecodeString(p.Body)
	if err != nil {
		return nil, rpcerr.New(rpcerr.CodeInvalidParams, "body must be base64: "+err.Error())
	}
	status := p.Status
	if status == 0 {
		status = 200
	}
	res := engine.NetworkResolution{Action: "fulfill", Status: status, Headers: p.Headers, Body: body}
	if err := page.ResolveInterceptedRequest(ctx, p.RequestID, res); err != nil {
		return nil, rpcerr.Translate(err)
	}
	return map[string]any{"ok": true}, nil
}

type networkAbortParams struct {
	PageID string `json:"pageId"`
	RequestID string `json:"requestId"`
	ErrorReason string `json:"errorReason"`
}

func (h *handlers) networkAbort(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p networkAbortParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, _, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	reason := p.ErrorReason
	if reason == "" {
		reason = "Failed"
	}
	res := engine.NetworkResolution{Action: "abort", ErrorReason: reason}
	if err := page.ResolveInterceptedRequest(ctx, p.RequestID, res); err != nil {
		return nil, rpcerr.Translate(err)
	}
	return map[string]any{"ok": true}, nil
}

type networkContinueParams struct {
	PageID string `json:"pageId"`
	RequestID string `json:"requestId"`
}

func (h *handlers) networkContinue(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p networkContinueParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, _, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	res := engine.NetworkResolution{Action: "continue"}
	if err := page.ResolveInterceptedRequest(ctx, p.RequestID, res); err != nil {
		return nil, rpcerr.Translate(err)
	}
	return map[string]any{"ok": true}, nil
}
