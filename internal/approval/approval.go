// Package approval implements BAP's human-in-the-loop approval gate:
// a policy-flagged action is suspended as a pending
// request; the calling agent is expected to surface it to a human, who
// answers via approval/respond. The blocked action resumes (or is
// rejected) based on that answer.
//
// Grounded on internal/annotation/store.go "waiter"
// mechanism (RegisterWaiter / completeCommand / StoreSession's
// notify-then-complete sequence): Request here plays the role of a
// waiter, Resolve plays the role of completeCommand, and the
// close-then-recreate notification channel is the same pattern used so a
// blocking Wait can be woken without a separate polling goroutine.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/browseragentprotocol/bap/internal/rpcerr"
)

// Decision is the human's answer to a pending approval request.
type Decision struct {
	Approved bool
	Reason string
}

type pending struct {
	done chan Decision
	ruleID string
}

// Gate owns the table of pending approval requests for a single session.
// Rule caching ("identical repeated requests within a
// session may be pre-approved") is keyed on ruleID, a caller-supplied
// fingerprint of the action being gated.
type Gate struct {
	mu sync.Mutex
	pending map[string]*pending
	preapproved map[string]bool
}

func New() *Gate {
	return &Gate{
		pending: make(map[string]*pending),
		preapproved: make(map[string]bool),
	}
}

// Request creates a pending approval and blocks until Respond is called
// for its ID, the context is cancelled, or timeout elapses (// CodeApprovalTimeout on expiry). If ruleID was previously pre-approved
// via Respond's "remember" flag, Request returns immediately without
// blocking.
func (g *Gate) Request(ctx context.Context, ruleID string, timeout time.Duration) (string, Decision, error) {
	g.mu.Lock()
	if ruleID != "" && g.preapproved[ruleID] {
		g.mu.Unlock()
		return "", Decision{Approved: true, Reason: "pre-approved"}, nil
	}
	id := uuid.NewString()
	p := &pending{done: make(chan Decision, 1), ruleID: ruleID}
	g.pending[id] = p
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-p.done:
		return id, d, nil
	case <-ctx.Done():
		g.cleanup(id)
		return id, Decision{}, rpcerr.Translate(ctx.Err())
	case <-timer.C:
		g.cleanup(id)
		return id, Decision{}, rpcerr.New(rpcerr.CodeApprovalTimeout, "approval request timed out")
	}
}

// Respond completes a pending approval request. remember, if true and the
// request carried a non-empty ruleID, pre-approves future requests with
// the same ruleID for the lifetime of the Gate.
func (g *Gate) Respond(id string, decision Decision, remember bool) error {
	g.mu.Lock()
	p, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
		if remember && p.ruleID != "" {
			g.preapproved[p.ruleID] = true
		}
	}
	g.mu.Unlock()

	if !ok {
		return rpcerr.New(rpcerr.CodeInvalidParams, "unknown approval request id: "+id)
	}
	p.done <- decision
	return nil
}

func (g *Gate) cleanup(id string) {
	g.mu.Lock()
	delete(g.pending, id)
	g.mu.Unlock()
}

// Pending reports whether id is still awaiting a response, for
// diagnostics/health reporting.
func (g *Gate) Pending(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[id]
	return ok
}
