package handlers

import (
	"context"
	"encoding/json"

	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/rpcerr"
	"github.com/browseragentprotocol/bap/internal/session"
)

type browserLaunchParams struct {
	Headless bool `json:"headless"`
	Args []string `json:"args"`
	DownloadsPath string `json:"downloadsPath"`
	TimeoutMs int `json:"timeout"`
}

type browserLaunchResult struct {
	Launched bool `json:"launched"`
}

// browserLaunch is exclusive to the session that issues it; a
// session may hold at most one browser, so a second launch is rejected
// rather than silently replacing the first.
func (h *handlers) browserLaunch(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	if sess.Browser() != nil {
		return nil, rpcerr.New(rpcerr.CodeAlreadyInitialized, "browser already launched for this session")
	}

	var p browserLaunchParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := h.d.LaunchGuard.Check(p.Args); err != nil {
		return nil, err
	}
	if p.DownloadsPath != "" {
		resolved, err := h.d.PathGuard.Check(p.DownloadsPath)
		if err != nil {
			return nil, err
		}
		p.DownloadsPath = resolved
	}

	browser, err := h.d.Engine.Launch(ctx, engine.LaunchOptions{
			Headless: p.Headless,
			Args: p.Args,
			DownloadsPath: p.DownloadsPath,
			Timeout: p.TimeoutMs,
	})
	if err != nil {
		return nil, rpcerr.Translate(err)
	}
	sess.SetBrowser(browser)
	return browserLaunchResult{Launched: true}, nil
}

// browserClose cascades to every context/page/registry/stream/approval the
// session owns ("closing it cascades").
func (h *handlers) browserClose(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	b := sess.Browser()
	if b == nil {
		return nil, rpcerr.New(rpcerr.CodeBrowserNotLaunched, "no browser launched for this session")
	}
	for _, ctxID := range sess.ContextIDs() {
		for _, pageID := range sess.PageIDs(ctxID) {
			h.d.Registry.InvalidatePage(pageID)
		}
		sess.RemoveContext(ctxID)
	}
	if err := b.Close(ctx); err != nil {
		return nil, rpcerr.Translate(err)
	}
	sess.SetBrowser(nil)
	return map[string]any{"closed": true}, nil
}
