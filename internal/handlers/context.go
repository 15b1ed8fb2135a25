package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/browseragentprotocol/bap/internal/audit"
	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/model"
	"github.com/browseragentprotocol/bap/internal/rpcerr"
	"github.com/browseragentprotocol/bap/internal/session"
)

type contextCreateParams struct {
	Viewport *model.Viewport `json:"viewport"`
	UserAgent string `json:"userAgent"`
	Locale string `json:"locale"`
	Timezone string `json:"timezone"`
	Geolocation *model.Geolocation `json:"geolocation"`
	Permissions []string `json:"permissions"`
	ColorScheme string `json:"colorScheme"`
	Offline bool `json:"offline"`
	StorageState map[string]any `json:"storageState"`
}

type contextResult struct {
	ContextID string `json:"contextId"`
}

// contextCreate enforces per-connection context cap via
// Session.AddContext's FIFO eviction (the configured Limits.MaxContexts).
func (h *handlers) contextCreate(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	b := sess.Browser()
	if b == nil {
		return nil, rpcerr.New(rpcerr.CodeBrowserNotLaunched, "no browser launched for this session")
	}
	var p contextCreateParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	opts := model.ContextOptions{
		UserAgent: p.UserAgent,
		Locale: p.Locale,
		Timezone: p.Timezone,
		Permissions: p.Permissions,
		ColorScheme: p.ColorScheme,
		Offline: p.Offline,
		StorageState: p.StorageState,
	}
	if p.Viewport != nil {
		opts.Viewport = p.Viewport
	}
	if p.Geolocation != nil {
		opts.Geolocation = p.Geolocation
	}

	engCtx, err := b.NewContext(ctx, opts)
	if err != nil {
		return nil, rpcerr.Translate(err)
	}

	id := engCtx.ID()
	if id == "" {
		id = uuid.NewString()
	}
	evicted := sess.AddContext(id, engCtx, &model.Context{
			ID: id,
			Options: opts,
			Pages: map[string]*model.Page{},
			CreatedAt: time.Now(),
	})
	if evicted != "" {
		h.d.Registry.InvalidatePage(evicted)
	}
	return contextResult{ContextID: id}, nil
}

type contextListItem struct {
	ContextID string `json:"contextId"`
	PageCount int `json:"pageCount"`
}

func (h *handlers) contextList(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	ids := sess.ContextIDs()
	out := make([]contextListItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, contextListItem{ContextID: id, PageCount: len(sess.PageIDs(id))})
	}
	return map[string]any{"contexts": out}, nil
}

type contextDestroyParams struct {
	ContextID string `json:"contextId"`
}

// contextDestroy cascades to the context's pages and their registries
// ("destroying a context destroys its pages and their
// registries/frame contexts").
func (h *handlers) contextDestroy(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p contextDestroyParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	engCtx, _, ok := sess.Context(p.ContextID)
	if !ok {
		return nil, rpcerr.New(rpcerr.CodeContextNotFound, "context not found: "+p.ContextID)
	}
	for _, pageID := range sess.PageIDs(p.ContextID) {
		h.d.Registry.InvalidatePage(pageID)
	}
	sess.RemoveContext(p.ContextID)
	if err := engCtx.Close(ctx); err != nil {
		return nil, rpcerr.Translate(err)
	}
	return map[string]any{"destroyed": true}, nil
}

func contextOf(sess *session.Session, pageID string) (engine.Context, string, error) {
	id, err := pagePageID(sess, pageID)
	if err != nil {
		return nil, "", err
	}
	ownerID := ""
	for _, cid := range sess.ContextIDs() {
		for _, pid := range sess.PageIDs(cid) {
			if pid == id {
				ownerID = cid
				break
			}
		}
	}
	if ownerID == "" {
		return nil, "", rpcerr.New(rpcerr.CodeContextNotFound, "page is not attached to a known context")
	}
	engCtx, _, ok := sess.Context(ownerID)
	if !ok {
		return nil, "", rpcerr.New(rpcerr.CodeContextNotFound, "context not found for page")
	}
	return engCtx, ownerID, nil
}

// --- storage/* (Storage family; these act on the page's owning
// context, since cookies/storage state are context-scoped) ---

type storagePageParams struct {
	PageID string `json:"pageId"`
}

func (h *handlers) storageGetState(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p storagePageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	engCtx, _, err := contextOf(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	state, err := engCtx.StorageState(ctx)
	if err != nil {
		audit.RecordEvent(ctx, audit.EventStorageStateBlocked)
		return nil, rpcerr.Translate(err)
	}
	audit.RecordEvent(ctx, audit.EventStorageStateExtracted)
	return map[string]any{"storageState": state}, nil
}

type storageSetStateParams struct {
	PageID string `json:"pageId"`
	StorageState map[string]any `json:"storageState"`
}

func (h *handlers) storageSetState(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p storageSetStateParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	engCtx, _, err := contextOf(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	if err := engCtx.SetStorageState(ctx, p.StorageState); err != nil {
		return nil, rpcerr.Translate(err)
	}
	return map[string]any{"ok": true}, nil
}

func (h *handlers) storageGetCookies(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p storagePageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	engCtx, _, err := contextOf(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	cookies, err := engCtx.Cookies(ctx)
	if err != nil {
		return nil, rpcerr.Translate(err)
	}
	return map[string]any{"cookies": cookies}, nil
}

type storageSetCookiesParams struct {
	PageID string `json:"pageId"`
	Cookies []engine.Cookie `json:"cookies"`
}

func (h *handlers) storageSetCookies(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p storageSetCookiesParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	engCtx, _, err := contextOf(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	if err := engCtx.SetCookies(ctx, p.Cookies); err != nil {
		return nil, rpcerr.Translate(err)
	}
	return map[string]any{"ok": true}, nil
}

func (h *handlers) storageClearCookies(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p storagePageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	engCtx, _, err := contextOf(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	if err := engCtx.ClearCookies(ctx); err != nil {
		return nil, rpcerr.Translate(err)
	}
	return map[string]any{"ok": true}, nil
}
