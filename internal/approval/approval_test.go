package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browseragentprotocol/bap/internal/rpcerr"
)

// onlyPendingID is a test-only peek at the gate's single in-flight
// request id, used because Request's id is otherwise only observable by
// the blocked caller itself.
func onlyPendingID(g *Gate) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id := range g.pending {
		return id
	}
	return ""
}

func TestRequestResolvesOnRespond(t *testing.T) {
	g := New()

	type outcome struct {
		id string
		decision Decision
		err error
	}
	results := make(chan outcome, 1)
	go func() {
		id, decision, err := g.Request(context.Background(), "", time.Second)
		results <- outcome{id, decision, err}
	}()

	// Wait for the request to register before resolving it.
	require.Eventually(t, func() bool {
			return len(onlyPendingID(g)) > 0
		}, time.Second, time.Millisecond)

	pendingID := onlyPendingID(g)
	require.NoError(t, g.Respond(pendingID, Decision{Approved: true, Reason: "ok"}, false))

	out := <-results
	require.NoError(t, out.err)
	assert.True(t, out.decision.Approved)
	assert.Equal(t, "ok", out.decision.Reason)
}

func TestRequestTimesOut(t *testing.T) {
	g := New()

	_, _, err := g.Request(context.Background(), "rule-1", 10*time.Millisecond)
	require.Error(t, err)

	var bapErr *rpcerr.Error
	require.ErrorAs(t, err, &bapErr)
	assert.Equal(t, rpcerr.CodeApprovalTimeout, bapErr.Code)
}

func TestRequestCancelledByContext(t *testing.T) {
	g := New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := g.Request(ctx, "", time.Second)
	require.Error(t, err)
}

func TestPreapprovedRuleSkipsBlocking(t *testing.T) {
	g := New()

	results := make(chan Decision, 1)
	go func() {
		_, d, err := g.Request(context.Background(), "rule-x", time.Second)
		require.NoError(t, err)
		results <- d
	}()

	require.Eventually(t, func() bool { return len(onlyPendingID(g)) > 0 }, time.Second, time.Millisecond)
	pendingID := onlyPendingID(g)
	require.NoError(t, g.Respond(pendingID, Decision{Approved: true}, true))
	<-results

	// Second request for the same ruleID should now resolve immediately.
	id, d, err := g.Request(context.Background(), "rule-x", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "", id)
	assert.True(t, d.Approved)
	assert.Equal(t, "pre-approved", d.Reason)
}

func TestRespondUnknownIDErrors(t *testing.T) {
	g := New()
	err := g.Respond("no-such-id", Decision{Approved: true}, false)
	require.Error(t, err)
}
