// Package session implements BAP's per-connection Session Manager:
// one Session is created per WebSocket connection on a successful
// initialize call, owns a bounded set of browser Contexts/Pages, and is
// torn down on idle timeout, lifetime expiry, or connection close.
//
// Grounded on internal/annotation/store.go: the TTL-entry
// map plus background cleanupLoop ticker is the same shape used here for
// idle/lifetime eviction, generalized from annotation.Store's single
// tabID-keyed map to a session registry whose values themselves own
// bounded sub-maps of contexts and pages. util.SafeGo carries over
// unchanged as the panic-recovering goroutine launcher.
package session

import (
	"sync"
	"time"

	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/model"
	"github.com/browseragentprotocol/bap/internal/policy"
)

// Limits bounds the resources a single session may hold, enforced with
// FIFO eviction of the oldest entry when a new one would exceed the cap
// (edge cases).
type Limits struct {
	MaxContexts int
	MaxPagesPerCtx int
	IdleTimeout time.Duration
	MaxLifetime time.Duration
}

// DefaultLimits matches suggested defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxContexts: 10,
		MaxPagesPerCtx: 20,
		IdleTimeout: 5 * time.Minute,
		MaxLifetime: 2 * time.Hour,
	}
}

// Session is the server-side state for one initialized connection.
type Session struct {
	ID string
	ClientName string
	ClientVersion string
	Scopes map[policy.Scope]bool
	CreatedAt time.Time

	mu sync.RWMutex
	lastActivity time.Time
	browser engine.Browser
	contexts map[string]*contextEntry
	contextOrder []string // FIFO order for eviction

	pageContext map[string]string // pageID -> owning contextID, across the whole session
	activePageID string

	frameContext map[string]string // pageID -> active frameId ("" means main), limits Limits
	closed bool
}

type contextEntry struct {
	engineCtx engine.Context
	model *model.Context
	pageOrder []string
	pages map[string]engine.Page
}

func newSession(id string, limits Limits, scopes map[policy.Scope]bool) *Session {
	now := time.Now()
	if scopes == nil {
		scopes = make(map[policy.Scope]bool)
	}
	return &Session{
		ID: id,
		Scopes: scopes,
		CreatedAt: now,
		lastActivity: now,
		contexts: make(map[string]*contextEntry),
		pageContext: make(map[string]string),
		frameContext: make(map[string]string),
		limits: limits,
	}
}

// SetFrameContext records pageID's active frame target ("" for main),
// : "subsequent actions on that page target that frame until
// switched back".
func (s *Session) SetFrameContext(pageID, frameID string) {
	s.mu.Lock()
	s.frameContext[pageID] = frameID
	s.mu.Unlock()
}

// FrameContext returns pageID's active frame target, or "" for main.
func (s *Session) FrameContext(pageID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frameContext[pageID]
}

// Touch records activity, resetting the idle timer.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IdleFor reports how long the session has gone without activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.lastActivity)
}

// Age reports how long the session has existed.
func (s *Session) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

// Expired reports whether the session has exceeded its idle or lifetime
// budget and should be torn down.
func (s *Session) Expired() bool {
	if s.limits.IdleTimeout > 0 && s.IdleFor() > s.limits.IdleTimeout {
		return true
	}
	if s.limits.MaxLifetime > 0 && s.Age() > s.limits.MaxLifetime {
		return true
	}
	return false
}

// SetBrowser attaches the launched engine.Browser to the session
// (browser.launch is exclusive to the session that issued it, ).
func (s *Session) SetBrowser(b engine.Browser) {
	s.mu.Lock()
	s.browser = b
	s.mu.Unlock()
}

// Browser returns the session's launched browser, or nil if none.
func (s *Session) Browser() engine.Browser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.browser
}

// AddContext registers a newly created context, evicting the oldest
// context (and its pages) if the session is already at MaxContexts.
func (s *Session) AddContext(id string, engineCtx engine.Context, m *model.Context) (evictedID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limits.MaxContexts > 0 && len(s.contexts) >= s.limits.MaxContexts {
		evictedID = s.contextOrder[0]
		s.contextOrder = s.contextOrder[1:]
		delete(s.contexts, evictedID)
	}

	s.contexts[id] = &contextEntry{engineCtx: engineCtx, model: m, pages: make(map[string]engine.Page)}
	s.contextOrder = append(s.contextOrder, id)
	return evictedID
}

// Context returns the context registered under id.
func (s *Session) Context(id string) (engine.Context, *model.Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ce, ok := s.contexts[id]
	if !ok {
		return nil, nil, false
	}
	return ce.engineCtx, ce.model, true
}

// RemoveContext drops a context from the session's bookkeeping (the
// caller is responsible for closing the engine.Context itself).
func (s *Session) RemoveContext(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ce, ok := s.contexts[id]
	if ok {
		for pageID := range ce.pages {
			delete(s.pageContext, pageID)
			delete(s.frameContext, pageID)
			if s.activePageID == pageID {
				s.activePageID = ""
			}
		}
	}
	delete(s.contexts, id)
	for i, cid := range s.contextOrder {
		if cid == id {
			s.contextOrder = append(s.contextOrder[:i], s.contextOrder[i+1:]...)
			break
		}
	}
}

// AddPage registers a page under a context, evicting the oldest page in
// that context if it is already at MaxPagesPerCtx. enginePage is the live
// handle subsequent action/observe calls drive; it is looked up again by
// Page.
func (s *Session) AddPage(contextID, pageID string, p *model.Page, enginePage engine.Page) (evictedID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ce, ok := s.contexts[contextID]
	if !ok {
		return ""
	}
	if s.limits.MaxPagesPerCtx > 0 && len(ce.model.Pages) >= s.limits.MaxPagesPerCtx {
		evictedID = ce.pageOrder[0]
		ce.pageOrder = ce.pageOrder[1:]
		delete(ce.model.Pages, evictedID)
		delete(ce.pages, evictedID)
		delete(s.pageContext, evictedID)
		delete(s.frameContext, evictedID)
		if s.activePageID == evictedID {
			s.activePageID = ""
		}
	}
	if ce.model.Pages == nil {
		ce.model.Pages = make(map[string]*model.Page)
	}
	if ce.pages == nil {
		ce.pages = make(map[string]engine.Page)
	}
	ce.model.Pages[pageID] = p
	ce.pages[pageID] = enginePage
	ce.pageOrder = append(ce.pageOrder, pageID)
	s.pageContext[pageID] = contextID
	s.activePageID = pageID
	return evictedID
}

// Page returns the live engine handle and model state for pageID,
// wherever in the session's contexts it is registered.
func (s *Session) Page(pageID string) (engine.Page, *model.Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contextID, ok := s.pageContext[pageID]
	if !ok {
		return nil, nil, false
	}
	ce, ok := s.contexts[contextID]
	if !ok {
		return nil, nil, false
	}
	return ce.pages[pageID], ce.model.Pages[pageID], ce.model.Pages[pageID] != nil
}

// RemovePage drops a single page from its owning context without
// touching the rest of the context (used by page/close, and by the
// external-close event handler when the engine reports a crash).
func (s *Session) RemovePage(pageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contextID, ok := s.pageContext[pageID]
	if !ok {
		return
	}
	ce, ok := s.contexts[contextID]
	if ok {
		delete(ce.model.Pages, pageID)
		delete(ce.pages, pageID)
		for i, pid := range ce.pageOrder {
			if pid == pageID {
				ce.pageOrder = append(ce.pageOrder[:i], ce.pageOrder[i+1:]...)
				break
			}
		}
	}
	delete(s.pageContext, pageID)
	delete(s.frameContext, pageID)
	if s.activePageID == pageID {
		s.activePageID = ""
	}
}

// SetActivePage records pageID as the session's implicit action target
// ("a map of pages with an active pageId").
func (s *Session) SetActivePage(pageID string) {
	s.mu.Lock()
	s.activePageID = pageID
	s.mu.Unlock()
}

// ActivePageID returns the session's current implicit action target, or
// "" if none is set (no pages yet, or the active page was closed).
func (s *Session) ActivePageID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activePageID
}

// ContextIDs returns the session's currently registered context IDs.
func (s *Session) ContextIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, len(s.contextOrder))
	copy(ids, s.contextOrder)
	return ids
}

// PageIDs returns every page ID registered under contextID, in creation
// order.
func (s *Session) PageIDs(contextID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ce, ok := s.contexts[contextID]
	if !ok {
		return nil
	}
	ids := make([]string, len(ce.pageOrder))
	copy(ids, ce.pageOrder)
	return ids
}

// MarkClosed flags the session as torn down. Safe to call more than once.
func (s *Session) MarkClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether MarkClosed has been called.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
