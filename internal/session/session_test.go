package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/engine/enginetest"
	"github.com/browseragentprotocol/bap/internal/model"
)

func testLimits() Limits {
	return Limits{MaxContexts: 2, MaxPagesPerCtx: 2, IdleTimeout: time.Hour, MaxLifetime: time.Hour}
}

func fakeContext(t *testing.T) engine.Context {
	t.Helper()
	eng := enginetest.New()
	browser, err := eng.Launch(nil, engine.LaunchOptions{})
	require.NoError(t, err)
	ctx, err := browser.NewContext(nil, model.ContextOptions{})
	require.NoError(t, err)
	return ctx
}

func fakePage(t *testing.T, ctx engine.Context) engine.Page {
	t.Helper()
	p, err := ctx.NewPage(nil)
	require.NoError(t, err)
	return p
}

func TestSessionExpiredByIdleTimeout(t *testing.T) {
	s := newSession("s1", Limits{IdleTimeout: time.Millisecond}, nil)
	s.lastActivity = time.Now().Add(-time.Hour)
	assert.True(t, s.Expired())
}

func TestSessionExpiredByMaxLifetime(t *testing.T) {
	s := newSession("s1", Limits{MaxLifetime: time.Millisecond}, nil)
	s.CreatedAt = time.Now().Add(-time.Hour)
	assert.True(t, s.Expired())
}

func TestSessionNotExpiredWithinLimits(t *testing.T) {
	s := newSession("s1", testLimits(), nil)
	assert.False(t, s.Expired())
}

func TestTouchResetsIdleTimer(t *testing.T) {
	s := newSession("s1", testLimits(), nil)
	s.lastActivity = time.Now().Add(-time.Hour)
	s.Touch()
	assert.Less(t, s.IdleFor(), time.Second)
}

func TestAddContextEvictsOldestAtCapacity(t *testing.T) {
	s := newSession("s1", testLimits(), nil)

	ev := s.AddContext("ctx-1", fakeContext(t), &model.Context{Pages: map[string]*model.Page{}})
	assert.Empty(t, ev)
	ev = s.AddContext("ctx-2", fakeContext(t), &model.Context{Pages: map[string]*model.Page{}})
	assert.Empty(t, ev)

	ev = s.AddContext("ctx-3", fakeContext(t), &model.Context{Pages: map[string]*model.Page{}})
	assert.Equal(t, "ctx-1", ev)

	_, _, ok := s.Context("ctx-1")
	assert.False(t, ok)
	_, _, ok = s.Context("ctx-3")
	assert.True(t, ok)
}

func TestRemoveContextDropsEntry(t *testing.T) {
	s := newSession("s1", testLimits(), nil)
	s.AddContext("ctx-1", fakeContext(t), &model.Context{Pages: map[string]*model.Page{}})

	s.RemoveContext("ctx-1")
	_, _, ok := s.Context("ctx-1")
	assert.False(t, ok)
	assert.Empty(t, s.ContextIDs())
}

func TestAddPageEvictsOldestAtCapacity(t *testing.T) {
	s := newSession("s1", testLimits(), nil)
	engCtx := fakeContext(t)
	s.AddContext("ctx-1", engCtx, &model.Context{Pages: map[string]*model.Page{}})

	ev := s.AddPage("ctx-1", "page-1", &model.Page{ID: "page-1"}, fakePage(t, engCtx))
	assert.Empty(t, ev)
	ev = s.AddPage("ctx-1", "page-2", &model.Page{ID: "page-2"}, fakePage(t, engCtx))
	assert.Empty(t, ev)

	ev = s.AddPage("ctx-1", "page-3", &model.Page{ID: "page-3"}, fakePage(t, engCtx))
	assert.Equal(t, "page-1", ev)

	_, m, _ := s.Context("ctx-1")
	_, ok := m.Pages["page-1"]
	assert.False(t, ok)
	_, ok = m.Pages["page-3"]
	assert.True(t, ok)

	_, _, ok = s.Page("page-1")
	assert.False(t, ok)
	engPage, _, ok := s.Page("page-3")
	assert.True(t, ok)
	assert.NotNil(t, engPage)
	assert.Equal(t, "page-3", s.ActivePageID())
}

func TestAddPageUnknownContextIsNoop(t *testing.T) {
	s := newSession("s1", testLimits(), nil)
	ev := s.AddPage("no-such-ctx", "page-1", &model.Page{ID: "page-1"}, nil)
	assert.Empty(t, ev)
}

func TestRemoveContextClearsPageLookups(t *testing.T) {
	s := newSession("s1", testLimits(), nil)
	engCtx := fakeContext(t)
	s.AddContext("ctx-1", engCtx, &model.Context{Pages: map[string]*model.Page{}})
	s.AddPage("ctx-1", "page-1", &model.Page{ID: "page-1"}, fakePage(t, engCtx))

	s.RemoveContext("ctx-1")

	_, _, ok := s.Page("page-1")
	assert.False(t, ok)
	assert.Empty(t, s.ActivePageID())
}

func TestRemovePageDropsSinglePage(t *testing.T) {
	s := newSession("s1", testLimits(), nil)
	engCtx := fakeContext(t)
	s.AddContext("ctx-1", engCtx, &model.Context{Pages: map[string]*model.Page{}})
	s.AddPage("ctx-1", "page-1", &model.Page{ID: "page-1"}, fakePage(t, engCtx))

	s.RemovePage("page-1")

	_, _, ok := s.Page("page-1")
	assert.False(t, ok)
	assert.Empty(t, s.PageIDs("ctx-1"))
	assert.Empty(t, s.ActivePageID())
}

func TestMarkClosedIsIdempotent(t *testing.T) {
	s := newSession("s1", testLimits(), nil)
	assert.False(t, s.Closed())
	s.MarkClosed()
	s.MarkClosed()
	assert.True(t, s.Closed())
}

func TestSetBrowserAndBrowser(t *testing.T) {
	s := newSession("s1", testLimits(), nil)
	assert.Nil(t, s.Browser())

	eng := enginetest.New()
	browser, err := eng.Launch(nil, engine.LaunchOptions{})
	require.NoError(t, err)

	s.SetBrowser(browser)
	assert.Equal(t, browser, s.Browser())
}
