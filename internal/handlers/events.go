package handlers

import (
	"context"
	"encoding/json"

	"github.com/browseragentprotocol/bap/internal/events"
	"github.com/browseragentprotocol/bap/internal/model"
	"github.com/browseragentprotocol/bap/internal/session"
)

func eventsEvent(kind model.EventKind, pageID string, payload any) events.Event {
	return events.Event{Kind: kind, PageID: pageID, Payload: payload}
}

type eventsSubscribeParams struct {
	Events []string `json:"events"`
	PageID string `json:"pageId"`
}

// eventsSubscribe installs a per-session filter; engine
// callbacks wired in page.go's wirePageEvents are translated to
// notifications only when a subscription's filter matches.
func (h *handlers) eventsSubscribe(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p eventsSubscribeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	kinds := make(map[model.EventKind]bool, len(p.Events))
	for _, e := range p.Events {
		kinds[model.EventKind(e)] = true
	}
	filter := events.Filter{Kinds: kinds, PageID: p.PageID}

	h.d.Events.Subscribe(sess.ID, "default", filter, func(ev events.Event) {
			h.d.notify(sess.ID, "events/"+string(ev.Kind), map[string]any{
					"pageId": ev.PageID,
					"payload": ev.Payload,
			})
	})
	return map[string]any{"subscribed": true}, nil
}
