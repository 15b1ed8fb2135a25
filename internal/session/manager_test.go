package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerCreateAndGet(t *testing.T) {
	m := NewManager(testLimits(), nil, nil)
	defer m.Stop()

	s := m.Create(nil)
	require.NotEmpty(t, s.ID)

	got, ok := m.Get(s.ID)
	assert.True(t, ok)
	assert.Equal(t, s, got)
}

func TestManagerGetUnknownReturnsFalse(t *testing.T) {
	m := NewManager(testLimits(), nil, nil)
	defer m.Stop()

	_, ok := m.Get("does-not-exist")
	assert.False(t, ok)
}

func TestManagerCloseRemovesAndInvokesCallback(t *testing.T) {
	var closed *Session
	m := NewManager(testLimits(), func(s *Session) { closed = s }, nil)
	defer m.Stop()

	s := m.Create(nil)
	m.Close(s.ID)

	_, ok := m.Get(s.ID)
	assert.False(t, ok)
	assert.True(t, s.Closed())
	require.NotNil(t, closed)
	assert.Equal(t, s.ID, closed.ID)
}

func TestManagerCloseUnknownIsNoop(t *testing.T) {
	called := false
	m := NewManager(testLimits(), func(s *Session) { called = true }, nil)
	defer m.Stop()

	m.Close("does-not-exist")
	assert.False(t, called)
}

func TestManagerCount(t *testing.T) {
	m := NewManager(testLimits(), nil, nil)
	defer m.Stop()

	assert.Equal(t, 0, m.Count())
	s1 := m.Create(nil)
	m.Create(nil)
	assert.Equal(t, 2, m.Count())

	m.Close(s1.ID)
	assert.Equal(t, 1, m.Count())
}

func TestManagerSweepExpiredEvictsAndCallsOnClose(t *testing.T) {
	var closedIDs []string
	m := NewManager(Limits{IdleTimeout: time.Millisecond}, func(s *Session) {
			closedIDs = append(closedIDs, s.ID)
		}, nil)
	defer m.Stop()

	s := m.Create(nil)
	s.lastActivity = time.Now().Add(-time.Hour)

	m.sweepExpired()

	_, ok := m.Get(s.ID)
	assert.False(t, ok)
	assert.Contains(t, closedIDs, s.ID)
}

func TestManagerStopIsIdempotent(t *testing.T) {
	m := NewManager(testLimits(), nil, nil)
	m.Stop()
	m.Stop()
}
