// Package ratelimit implements BAP's per-session, per-dimension sliding
// window rate limiter: each session tracks independent windows
// for dimensions like "action", "navigation", and "screenshot", rejecting
// calls that exceed the dimension's configured rate with a retryable
// CodeRateLimited error.
//
// Grounded on cmd/dev-console/rate_limit.go: the window
// reset-on-expiry and accumulate-within-window mechanics are the same
// shape, narrowed from dev-console's single global counter to one window
// per (session, dimension) pair and without the five-second-streak circuit
// breaker, which has no analogue in BAP's per-call request/response model.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/browseragentprotocol/bap/internal/rpcerr"
)

// Limit configures the sliding window for one dimension.
type Limit struct {
	Max int
	Window time.Duration
}

// DefaultLimits mirrors suggested per-dimension budgets. "request" is the
// universal per-call dimension handlers.go attaches to nearly every
// method; "screenshot" and "agent.act" narrow specific expensive methods
// further.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		"request": {Max: 50, Window: time.Second},
		"screenshot": {Max: 30, Window: 60 * time.Second},
		"agent.act": {Max: 5, Window: time.Second},
	}
}

type window struct {
	start time.Time
	count int
}

// Limiter tracks sliding windows keyed by (sessionID, dimension).
type Limiter struct {
	mu sync.Mutex
	limits map[string]Limit
	windows map[string]map[string]*window
	now func() time.Time
}

// New constructs a Limiter with the given per-dimension limits. A nil map
// falls back to DefaultLimits.
func New(limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Limiter{
		limits: limits,
		windows: make(map[string]map[string]*window),
		now: time.Now,
	}
}

// Allow records one event for (sessionID, dimension) and returns a
// CodeRateLimited error with RetryAfterMs set if the dimension's window is
// already at capacity. Unconfigured dimensions are always allowed.
func (l *Limiter) Allow(sessionID, dimension string) error {
	limit, ok := l.limits[dimension]
	if !ok {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sessionWindows, ok := l.windows[sessionID]
	if !ok {
		sessionWindows = make(map[string]*window)
		l.windows[sessionID] = sessionWindows
	}
	w, ok := sessionWindows[dimension]
	now := l.now()
	if !ok || now.Sub(w.start) > limit.Window {
		w = &window{start: now, count: 0}
		sessionWindows[dimension] = w
	}

	if w.count >= limit.Max {
		remaining := limit.Window - now.Sub(w.start)
		retryAfterMs := int(remaining / time.Millisecond)
		if retryAfterMs < 0 {
			retryAfterMs = 0
		}
		return rpcerr.New(rpcerr.CodeRateLimited,
			fmt.Sprintf("rate limit exceeded for %q: %d/%d per %s", dimension, w.count, limit.Max, limit.Window),
			rpcerr.WithRetryAfterMs(retryAfterMs))
	}

	w.count++
	return nil
}

// Reset drops all window state for a session, called on session eviction
// so long-lived limiter maps do not accumulate entries for closed sessions.
func (l *Limiter) Reset(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, sessionID)
}
