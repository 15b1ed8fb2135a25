// Package events implements BAP's event subscription and notification
// fan-out (, methods events/subscribe and events/unsubscribe):
// a session names the event kinds and page scope it wants, and the
// engine's OnEvent callbacks are translated into JSON-RPC notifications
// delivered only to subscribers whose filter matches.
//
// Grounded on internal/annotation/store.go waiter/callback
// fan-out idea, generalized from a single completeCommand callback to a
// per-session table of filters each checked against every emitted event.
package events

import (
	"sync"

	"github.com/browseragentprotocol/bap/internal/model"
)

// Filter selects which events a subscription receives.
type Filter struct {
	Kinds map[model.EventKind]bool // empty/nil means "all kinds"
	PageID string // empty means "all pages in the session"
}

func (f Filter) matches(kind model.EventKind, pageID string) bool {
	if len(f.Kinds) > 0 && !f.Kinds[kind] {
		return false
	}
	if f.PageID != "" && f.PageID != pageID {
		return false
	}
	return true
}

// Event is a single emitted occurrence, ready to be wrapped in a
// protocol.Notification by the transport layer.
type Event struct {
	Kind model.EventKind `json:"kind"`
	PageID string `json:"pageId"`
	Payload any `json:"payload"`
}

// Deliver is called once per matching event for a subscription; the
// transport layer supplies the implementation (writing a WebSocket
// notification frame).
type Deliver func(Event)

type subscription struct {
	id string
	filter Filter
	notify Deliver
}

// Bus fans out events to per-session subscriptions.
type Bus struct {
	mu sync.RWMutex
	subs map[string]map[string]*subscription // sessionID -> subID -> sub
}

func New() *Bus {
	return &Bus{subs: make(map[string]map[string]*subscription)}
}

// Subscribe registers notify to receive events matching filter for
// sessionID, returning a subscription ID usable with Unsubscribe.
func (b *Bus) Subscribe(sessionID, subID string, filter Filter, notify Deliver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[string]*subscription)
	}
	b.subs[sessionID][subID] = &subscription{id: subID, filter: filter, notify: notify}
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(sessionID, subID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	sessionSubs, ok := b.subs[sessionID]
	if !ok {
		return false
	}
	if _, ok := sessionSubs[subID]; !ok {
		return false
	}
	delete(sessionSubs, subID)
	return true
}

// UnsubscribeAll drops every subscription for a session, called on
// session teardown.
func (b *Bus) UnsubscribeAll(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sessionID)
}

// Emit delivers ev to every matching subscription on sessionID. Delivery
// happens synchronously on the caller's goroutine (the engine event
// callback); Deliver implementations must not block.
func (b *Bus) Emit(sessionID string, ev Event) {
	b.mu.RLock()
	sessionSubs := b.subs[sessionID]
	matched := make([]*subscription, 0, len(sessionSubs))
	for _, sub := range sessionSubs {
		if sub.filter.matches(ev.Kind, ev.PageID) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		sub.notify(ev)
	}
}
