// Package engine declares the BrowserEngine capability BAP's core depends
// on. The core never imports a concrete driver package
// directly — handlers, the composite action engine, and the observe
// pipeline all depend on this interface, so a real adapter
// (internal/engine/rodengine) and a test fake (internal/engine/enginetest)
// are interchangeable.
package engine

import (
	"context"
	"io"

	"github.com/browseragentprotocol/bap/internal/model"
)

// LaunchOptions configures a new Browser.
type LaunchOptions struct {
	Headless bool
	Args []string
	DownloadsPath string
	Timeout int // milliseconds
}

// Browser is a running browser process handle. Closing it cascades to
// every Context, Page, registry, stream, and pending approval owned by
// the session that launched it (Browser).
type Browser interface {
	NewContext(ctx context.Context, opts model.ContextOptions) (Context, error)
	Close(ctx context.Context) error
}

// Context is an isolated browsing context (Context).
type Context interface {
	ID() string
	NewPage(ctx context.Context) (Page, error)
	Close(ctx context.Context) error
	SetGeolocation(ctx context.Context, geo model.Geolocation) error
	SetOffline(ctx context.Context, offline bool) error
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	ClearCookies(ctx context.Context) error
	StorageState(ctx context.Context) (map[string]any, error)
	SetStorageState(ctx context.Context, state map[string]any) error
}

// Page is a single tab.
type Page interface {
	ID() string
	Goto(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	Close(ctx context.Context) error
	URL() string
	Title(ctx context.Context) (string, error)
	ViewportSize() model.Viewport
	SetViewportSize(ctx context.Context, vp model.Viewport) error
	Content(ctx context.Context) (string, error)
	InnerText(ctx context.Context, cssSelector string) (string, error)
	PDF(ctx context.Context) ([]byte, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Evaluate(ctx context.Context, script string, args ...any) (any, error)
	AriaSnapshot(ctx context.Context) (AccessibilityNode, error)

	Mouse() Mouse
	Keyboard() Keyboard
	Frames(ctx context.Context) ([]Frame, error)
	MainFrame() Frame

	Locator(sel EngineSelector) Locator

	OnEvent(kind model.EventKind, cb func(payload any))

	// HandleDialog answers the page's currently open JavaScript dialog
	// (alert/confirm/prompt). Only one such dialog can be open on a page
	// at a time, so no per-dialog ID is required.
	HandleDialog(ctx context.Context, accept bool, promptText string) error

	// SetNetworkInterception arms or disarms request interception for
	// patterns (empty means all requests). While armed, every matching
	// request fires a model.EventNetworkRequest carrying a "requestId"
	// the caller resolves with ResolveInterceptedRequest before the
	// request is allowed to proceed.
	SetNetworkInterception(ctx context.Context, enabled bool, patterns []string) error

	// ResolveInterceptedRequest answers one paused request previously
	// surfaced via SetNetworkInterception's event.
	ResolveInterceptedRequest(ctx context.Context, requestID string, res NetworkResolution) error
}

// NetworkResolution is how a caller disposes of one intercepted request
// (network/fulfill, network/abort, network/continue).
type NetworkResolution struct {
	Action string // "fulfill", "abort", "continue"
	Status int
	Headers map[string]string
	Body []byte
	ErrorReason string
}

// Frame identifies a single frame within a page (Frame Context).
type Frame interface {
	ID() string
	Name() string
	IsMain() bool
}

// Mouse is the page's pointer input surface.
type Mouse interface {
	Click(ctx context.Context, x, y float64) error
	DblClick(ctx context.Context, x, y float64) error
	Move(ctx context.Context, x, y float64) error
}

// Keyboard is the page's keyboard input surface.
type Keyboard interface {
	Type(ctx context.Context, text string) error
	Press(ctx context.Context, key string) error
}

// EngineSelector is the engine-facing locator request, translated from
// internal/selector.Selector by the handlers layer — kept as a narrow
// struct here so this package has no dependency on the selector package's
// string-parsing concerns.
type EngineSelector struct {
	Kind string // "css", "xpath", "role", "text", "label", "placeholder", "testId"
	Value string
	Role string
	Name string
	Exact bool
}

// Locator is an unresolved handle to zero-or-more elements, mirroring the
// Playwright-style locator API collaborator is expected to
// expose.
type Locator interface {
	Click(ctx context.Context, opts ClickOptions) error
	DblClick(ctx context.Context) error
	Fill(ctx context.Context, value string) error
	Clear(ctx context.Context) error
	TypeSequentially(ctx context.Context, text string) error
	Press(ctx context.Context, key string) error
	Hover(ctx context.Context) error
	ScrollIntoViewIfNeeded(ctx context.Context) error
	SelectOption(ctx context.Context, values []string) error
	Check(ctx context.Context) error
	Uncheck(ctx context.Context) error
	SetInputFiles(ctx context.Context, paths []string) error
	DragTo(ctx context.Context, target Locator) error

	BoundingBox(ctx context.Context) (*BoundingBox, error)
	IsVisible(ctx context.Context) (bool, error)
	IsEnabled(ctx context.Context) (bool, error)
	IsChecked(ctx context.Context) (bool, error)
	IsDisabled(ctx context.Context) (bool, error)
	InnerText(ctx context.Context) (string, error)
	InputValue(ctx context.Context) (string, error)
	GetAttribute(ctx context.Context, name string) (string, error)
	Evaluate(ctx context.Context, script string) (any, error)
	WaitFor(ctx context.Context, state string) error
	ContentFrame(ctx context.Context) (Frame, error)
	AriaSnapshot(ctx context.Context) (AccessibilityNode, error)
	Count(ctx context.Context) (int, error)
}

// ClickOptions configures a click action (action params).
type ClickOptions struct {
	Button string // "left", "right", "middle"
	ClickCount int
}

// BoundingBox is a viewport-relative element rectangle.
type BoundingBox struct {
	X, Y, Width, Height float64
}

// Cookie mirrors the engine's cookie shape for storage/getCookies etc.
type Cookie struct {
	Name string `json:"name"`
	Value string `json:"value"`
	Domain string `json:"domain"`
	Path string `json:"path"`
	Expires float64 `json:"expires,omitempty"`
	HTTPOnly bool `json:"httpOnly,omitempty"`
	Secure bool `json:"secure,omitempty"`
	SameSite string `json:"sameSite,omitempty"`
}

// AccessibilityNode is a recursive accessibility tree node (// "Recursive accessibility tree"). Children are modeled as a slice rather
// than parent-linked pointers so the tree has no ownership cycles.
type AccessibilityNode struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
	Checked *bool `json:"checked,omitempty"`
	Disabled bool `json:"disabled,omitempty"`
	Focused bool `json:"focused,omitempty"`
	Children []AccessibilityNode `json:"children,omitempty"`
}

// Engine is the top-level capability BAP launches a browser from.
type Engine interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
	io.Closer
}
