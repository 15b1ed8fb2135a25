package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/browseragentprotocol/bap/internal/events"
	"github.com/browseragentprotocol/bap/internal/model"
	"github.com/browseragentprotocol/bap/internal/rpcerr"
	"github.com/browseragentprotocol/bap/internal/session"
)

// traceRecorder buffers every event observed for one page while a trace
// is running, for trace/stop to return as a single recording. Reuses
// the same events.Bus subscription model observe.go already uses.
type traceRecorder struct {
	mu sync.Mutex
	events []events.Event
}

func traceKey(sessionID, pageID string) string { return sessionID + ":" + pageID }

type tracePageParams struct {
	PageID string `json:"pageId"`
}

func (h *handlers) traceStart(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p tracePageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	_, id, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}

	key := traceKey(sess.ID, id)
	rec := &traceRecorder{}

	h.tracesMu.Lock()
	h.traces[key] = rec
	h.tracesMu.Unlock()

	h.d.Events.Subscribe(sess.ID, "trace:"+id, events.Filter{PageID: id}, func(ev events.Event) {
			rec.mu.Lock()
			rec.events = append(rec.events, ev)
			rec.mu.Unlock()
	})
	return map[string]any{"ok": true}, nil
}

type traceEntry struct {
	Kind model.EventKind `json:"kind"`
	Payload any `json:"payload"`
}

func (h *handlers) traceStop(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p tracePageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	_, id, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}

	key := traceKey(sess.ID, id)
	h.tracesMu.Lock()
	rec, ok := h.traces[key]
	delete(h.traces, key)
	h.tracesMu.Unlock()
	if !ok {
		return nil, rpcerr.New(rpcerr.CodeInvalidParams, "no trace running for page: "+id)
	}

	h.d.Events.Unsubscribe(sess.ID, "trace:"+id)

	rec.mu.Lock()
	out := make([]traceEntry, 0, len(rec.events))
	for _, ev := range rec.events {
		out = append(out, traceEntry{Kind: ev.Kind, Payload: ev.Payload})
	}
	rec.mu.Unlock()

	return map[string]any{"entries": out}, nil
}
