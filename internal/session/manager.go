package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/browseragentprotocol/bap/internal/policy"
	"github.com/browseragentprotocol/bap/internal/util"
)

// CloseFunc tears down a session's owned resources (its launched browser
// and any contexts/pages). The Manager calls it exactly once per session,
// whether the session is evicted by the background sweep or closed
// explicitly by the transport layer.
type CloseFunc func(*Session)

// Manager owns the live Session table, sweeping for idle/lifetime
// expiration on a fixed interval.
type Manager struct {
	mu sync.RWMutex
	sessions map[string]*Session
	limits Limits
	onClose CloseFunc
	log *zap.Logger

	done chan struct{}
	closeOnce sync.Once

	expireNotify func(sessionID string)
}

// SetExpireNotify registers fn to be called (outside the Manager's lock)
// whenever the background sweep evicts a session for idle/lifetime
// expiry — distinct from onClose, which also fires for an explicit
// shutdown/disconnect. The transport layer uses this to close the
// session's live socket with a policy-violation code, since the
// connection has no other way to learn its session just vanished.
func (m *Manager) SetExpireNotify(fn func(sessionID string)) {
	m.mu.Lock()
	m.expireNotify = fn
	m.mu.Unlock()
}

// NewManager constructs a Manager and starts its background sweep loop.
// onClose, if non-nil, is invoked (outside the Manager's lock) whenever a
// session is removed, so the caller can close its browser/contexts.
func NewManager(limits Limits, onClose CloseFunc, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		limits: limits,
		onClose: onClose,
		log: log.Named("session"),
		done: make(chan struct{}),
	}
	util.SafeGo(func() { m.sweepLoop() })
	return m
}

// Create registers a new session granted scopes (derived server-side by
// the caller — see policy.ResolveScopes — never taken from the client)
// and returns it.
func (m *Manager) Create(scopes map[policy.Scope]bool) *Session {
	id := uuid.NewString()
	s := newSession(id, m.limits, scopes)
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s
}

// Get returns the session for id, or (nil, false) if absent or expired.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || s.Closed() {
		return nil, false
	}
	return s, true
}

// Close removes and tears down a session immediately (connection closed
// by the client or by the transport layer).
func (m *Manager) Close(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	s.MarkClosed()
	if m.onClose != nil {
		m.onClose(s)
	}
}

// Count returns the number of live sessions, for health/metrics reporting.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stop halts the background sweep loop. Safe to call more than once.
func (m *Manager) Stop() {
	m.closeOnce.Do(func() { close(m.done) })
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

func (m *Manager) sweepExpired() {
	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.Expired() {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	m.mu.RLock()
	notify := m.expireNotify
	m.mu.RUnlock()

	for _, s := range expired {
		s.MarkClosed()
		m.log.Info("session expired", zap.String("sessionId", s.ID), zap.Duration("age", s.Age()))
		if notify != nil {
			notify(s.ID)
		}
		if m.onClose != nil {
			m.onClose(s)
		}
	}
}
