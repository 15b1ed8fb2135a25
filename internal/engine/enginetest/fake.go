// Package enginetest is an in-memory fake BrowserEngine used by every
// handler/dispatcher/registry test in this repository, so the test suite
// never launches a real browser.
//
// Grounded on CaptureStateReader interface in
// internal/session/sessions.go: the reference implementation defines a narrow interface
// purely so tests can substitute a fake reader for a live capture buffer.
// This package plays the same role for the whole BrowserEngine surface.
package enginetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/model"
)

// Engine is a fake engine.Engine. Launch returns a fresh *Browser; callers
// may mutate Engine.NextPageURL etc. before driving it through a test.
type Engine struct {
	mu sync.Mutex
	closed bool
	idCount int64
}

func New() *Engine { return &Engine{} }

func (e *Engine) nextID(prefix string) string {
	n := atomic.AddInt64(&e.idCount, 1)
	return fmt.Sprintf("%s-%d", prefix, n)
}

func (e *Engine) Launch(ctx context.Context, opts engine.LaunchOptions) (engine.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("engine: closed")
	}
	return &Browser{eng: e}, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Browser is a fake engine.Browser.
type Browser struct {
	eng *Engine
	mu sync.Mutex
	closed bool
}

func (b *Browser) NewContext(ctx context.Context, opts model.ContextOptions) (engine.Context, error) {
	return &Context{eng: b.eng, opts: opts, id: b.eng.nextID("ctx")}, nil
}

func (b *Browser) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Context is a fake engine.Context.
type Context struct {
	eng *Engine
	id string
	opts model.ContextOptions

	mu sync.Mutex
	cookies []engine.Cookie
	offline bool
}

func (c *Context) ID() string { return c.id }

func (c *Context) NewPage(ctx context.Context) (engine.Page, error) {
	return newPage(c.eng.nextID("page")), nil
}

func (c *Context) Close(ctx context.Context) error { return nil }

func (c *Context) SetGeolocation(ctx context.Context, geo model.Geolocation) error { return nil }

func (c *Context) SetOffline(ctx context.Context, offline bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offline = offline
	return nil
}

func (c *Context) Cookies(ctx context.Context) ([]engine.Cookie, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]engine.Cookie(nil), c.cookies...), nil
}

func (c *Context) SetCookies(ctx context.Context, cookies []engine.Cookie) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = append(c.cookies, cookies...)
	return nil
}

func (c *Context) ClearCookies(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cookies = nil
	return nil
}

func (c *Context) StorageState(ctx context.Context) (map[string]any, error) {
	return map[string]any{"cookies": c.cookies}, nil
}

func (c *Context) SetStorageState(ctx context.Context, state map[string]any) error { return nil }
