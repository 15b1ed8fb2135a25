package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browseragentprotocol/bap/internal/rpcerr"
)

func TestAllowUnderLimit(t *testing.T) {
	l := New(map[string]Limit{"action": {Max: 3, Window: time.Second}})

	assert.NoError(t, l.Allow("sess-1", "action"))
	assert.NoError(t, l.Allow("sess-1", "action"))
	assert.NoError(t, l.Allow("sess-1", "action"))
}

func TestAllowRejectsAtLimit(t *testing.T) {
	l := New(map[string]Limit{"action": {Max: 2, Window: time.Second}})

	require.NoError(t, l.Allow("sess-1", "action"))
	require.NoError(t, l.Allow("sess-1", "action"))

	err := l.Allow("sess-1", "action")
	require.Error(t, err)

	var bapErr *rpcerr.Error
	require.ErrorAs(t, err, &bapErr)
	assert.Equal(t, rpcerr.CodeRateLimited, bapErr.Code)
	assert.True(t, bapErr.Data.Retryable)
	assert.Greater(t, bapErr.Data.RetryAfterMs, 0)
}

func TestAllowResetsAfterWindowExpires(t *testing.T) {
	l := New(map[string]Limit{"action": {Max: 1, Window: 10 * time.Millisecond}})
	current := time.Now()
	l.now = func() time.Time { return current }

	require.NoError(t, l.Allow("sess-1", "action"))
	require.Error(t, l.Allow("sess-1", "action"))

	current = current.Add(20 * time.Millisecond)
	assert.NoError(t, l.Allow("sess-1", "action"))
}

func TestAllowIsPerSession(t *testing.T) {
	l := New(map[string]Limit{"action": {Max: 1, Window: time.Second}})

	require.NoError(t, l.Allow("sess-1", "action"))
	require.NoError(t, l.Allow("sess-2", "action"))
	assert.Error(t, l.Allow("sess-1", "action"))
}

func TestAllowIsPerDimension(t *testing.T) {
	l := New(map[string]Limit{
			"action": {Max: 1, Window: time.Second},
			"navigation": {Max: 1, Window: time.Second},
	})

	require.NoError(t, l.Allow("sess-1", "action"))
	assert.NoError(t, l.Allow("sess-1", "navigation"))
}

func TestAllowUnconfiguredDimensionAlwaysAllowed(t *testing.T) {
	l := New(map[string]Limit{})
	for i := 0; i < 10; i++ {
		assert.NoError(t, l.Allow("sess-1", "unconfigured"))
	}
}

func TestResetClearsSessionWindows(t *testing.T) {
	l := New(map[string]Limit{"action": {Max: 1, Window: time.Second}})

	require.NoError(t, l.Allow("sess-1", "action"))
	require.Error(t, l.Allow("sess-1", "action"))

	l.Reset("sess-1")
	assert.NoError(t, l.Allow("sess-1", "action"))
}

func TestDefaultLimitsCoversSpecDimensions(t *testing.T) {
	d := DefaultLimits()
	for _, dim := range []string{"action", "navigation", "screenshot", "observe", "agent.act"} {
		_, ok := d[dim]
		assert.True(t, ok, "missing default limit for dimension %q", dim)
	}
}
