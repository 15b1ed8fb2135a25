package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/model"
	"github.com/browseragentprotocol/bap/internal/rpcerr"
	"github.com/browseragentprotocol/bap/internal/session"
)

type pageCreateParams struct {
	ContextID string `json:"contextId"`
	URL string `json:"url"`
}

type pageResult struct {
	PageID string `json:"pageId"`
	URL string `json:"url"`
}

// pageCreate enforces per-context page cap via Session.AddPage's
// FIFO eviction (the configured Limits.MaxPagesPerCtx).
func (h *handlers) pageCreate(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p pageCreateParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	engCtx, _, ok := sess.Context(p.ContextID)
	if !ok {
		return nil, rpcerr.New(rpcerr.CodeContextNotFound, "context not found: "+p.ContextID)
	}

	engPage, err := engCtx.NewPage(ctx)
	if err != nil {
		return nil, rpcerr.Translate(err)
	}

	id := engPage.ID()
	if id == "" {
		id = uuid.NewString()
	}
	if p.URL != "" {
		if err := h.d.URLGuard.Check(p.URL); err != nil {
			return nil, err
		}
		if err := engPage.Goto(ctx, p.URL); err != nil {
			return nil, rpcerr.Translate(err)
		}
	}

	m := &model.Page{
		ID: id,
		ContextID: p.ContextID,
		URL: engPage.URL(),
		Status: model.PageStatusReady,
		Viewport: engPage.ViewportSize(),
		CreatedAt: time.Now(),
	}
	evicted := sess.AddPage(p.ContextID, id, m, engPage)
	if evicted != "" {
		h.d.Registry.InvalidatePage(evicted)
	}

	wirePageEvents(h.d, sess.ID, id, engPage)

	return pageResult{PageID: id, URL: m.URL}, nil
}

// wirePageEvents translates engine callbacks into events.Bus emissions,
// which the wsserver fans out as notifications only to subscribers.
// An external close also evicts the page from session state so a later
// lookup by pageId fails cleanly instead of returning a stale handle.
func wirePageEvents(d *Deps, sessionID, pageID string, p engine.Page) {
	p.OnEvent(model.EventPageLoad, func(payload any) {
			d.Events.Emit(sessionID, eventsEvent(model.EventPageLoad, pageID, payload))
	})
	p.OnEvent(model.EventPageDOMContentLoaded, func(payload any) {
			d.Events.Emit(sessionID, eventsEvent(model.EventPageDOMContentLoaded, pageID, payload))
	})
	p.OnEvent(model.EventPageClose, func(payload any) {
			d.Events.Emit(sessionID, eventsEvent(model.EventPageClose, pageID, payload))
			d.Registry.InvalidatePage(pageID)
	})
	p.OnEvent(model.EventConsole, func(payload any) {
			d.Events.Emit(sessionID, eventsEvent(model.EventConsole, pageID, payload))
	})
	p.OnEvent(model.EventNetworkRequest, func(payload any) {
			d.Events.Emit(sessionID, eventsEvent(model.EventNetworkRequest, pageID, payload))
	})
	p.OnEvent(model.EventNetworkResponse, func(payload any) {
			d.Events.Emit(sessionID, eventsEvent(model.EventNetworkResponse, pageID, payload))
	})
	p.OnEvent(model.EventNetworkFailed, func(payload any) {
			d.Events.Emit(sessionID, eventsEvent(model.EventNetworkFailed, pageID, payload))
	})
	p.OnEvent(model.EventDialog, func(payload any) {
			d.Events.Emit(sessionID, eventsEvent(model.EventDialog, pageID, payload))
	})
	p.OnEvent(model.EventDownload, func(payload any) {
			d.Events.Emit(sessionID, eventsEvent(model.EventDownload, pageID, payload))
	})
}

type pageNavParams struct {
	PageID string `json:"pageId"`
	URL string `json:"url,omitempty"`
}

func (h *handlers) pageNavigate(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p pageNavParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := h.d.URLGuard.Check(p.URL); err != nil {
		return nil, err
	}
	page, id, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	if err := page.Goto(ctx, p.URL); err != nil {
		return nil, rpcerr.Translate(err)
	}
	h.d.Registry.InvalidatePage(id) // navigation resets the registry
	return pageResult{PageID: id, URL: page.URL()}, nil
}

func (h *handlers) pageReload(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p storagePageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, id, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	if err := page.Reload(ctx); err != nil {
		return nil, rpcerr.Translate(err)
	}
	h.d.Registry.InvalidatePage(id)
	return pageResult{PageID: id, URL: page.URL()}, nil
}

func (h *handlers) pageGoBack(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p storagePageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, id, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	if err := page.GoBack(ctx); err != nil {
		return nil, rpcerr.Translate(err)
	}
	h.d.Registry.InvalidatePage(id)
	return pageResult{PageID: id, URL: page.URL()}, nil
}

func (h *handlers) pageGoForward(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p storagePageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, id, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	if err := page.GoForward(ctx); err != nil {
		return nil, rpcerr.Translate(err)
	}
	h.d.Registry.InvalidatePage(id)
	return pageResult{PageID: id, URL: page.URL()}, nil
}

func (h *handlers) pageClose(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p storagePageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, id, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	if err := page.Close(ctx); err != nil {
		return nil, rpcerr.Translate(err)
	}
	sess.RemovePage(id)
	h.d.Registry.InvalidatePage(id)
	return map[string]any{"closed": true}, nil
}

type pageListItem struct {
	PageID string `json:"pageId"`
	URL string `json:"url"`
	Active bool `json:"active"`
}

func (h *handlers) pageList(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	active := sess.ActivePageID()
	out := []pageListItem{}
	for _, cid := range sess.ContextIDs() {
		for _, pid := range sess.PageIDs(cid) {
			p, _, ok := sess.Page(pid)
			url := ""
			if ok && p != nil {
				url = p.URL()
			}
			out = append(out, pageListItem{PageID: pid, URL: url, Active: pid == active})
		}
	}
	return map[string]any{"pages": out}, nil
}

func (h *handlers) pageActivate(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p storagePageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if _, _, ok := sess.Page(p.PageID); !ok {
		return nil, rpcerr.New(rpcerr.CodeTargetClosed, "page not found: "+p.PageID)
	}
	sess.SetActivePage(p.PageID)
	return map[string]any{"ok": true}, nil
}
