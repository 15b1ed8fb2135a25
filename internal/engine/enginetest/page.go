package enginetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/model"
)

// Element is a scripted fake element a test pre-populates onto a Page so
// observe/act handlers have something deterministic to enumerate.
type Element struct {
	Role string
	Name string
	TagName string
	Value string
	Visible bool
	Enabled bool
	Disabled bool
	Bounds engine.BoundingBox
	TestID string
	DOMID string
}

// Page is a fake engine.Page.
type Page struct {
	id string
	mu sync.Mutex
	url string
	title string
	viewport model.Viewport
	closed bool

	Elements []Element // test-controlled fixture

	handlers map[model.EventKind][]func(any)

	DialogAccepted bool // last HandleDialog call, for test assertions
	DialogText string

	interceptEnabled bool
	pending map[string]chan engine.NetworkResolution
	pendingMu sync.Mutex
}

func newPage(id string) *Page {
	return &Page{id: id, viewport: model.Viewport{Width: 1280, Height: 720}, handlers: map[model.EventKind][]func(any){}}
}

func (p *Page) ID() string { return p.id }

func (p *Page) Goto(ctx context.Context, url string) error {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

func (p *Page) Reload(ctx context.Context) error { return nil }
func (p *Page) GoBack(ctx context.Context) error { return nil }
func (p *Page) GoForward(ctx context.Context) error { return nil }

func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title, nil
}

func (p *Page) ViewportSize() model.Viewport { return p.viewport }

func (p *Page) SetViewportSize(ctx context.Context, vp model.Viewport) error {
	p.mu.Lock()
	p.viewport = vp
	p.mu.Unlock()
	return nil
}

func (p *Page) Content(ctx context.Context) (string, error) { return "<html></html>", nil }

func (p *Page) InnerText(ctx context.Context, cssSelector string) (string, error) { return "", nil }

func (p *Page) PDF(ctx context.Context) ([]byte, error) { return []byte("%PDF-fake"), nil }

func (p *Page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return []byte("\x89PNG-fake"), nil
}

func (p *Page) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	return nil, nil
}

func (p *Page) AriaSnapshot(ctx context.Context) (engine.AccessibilityNode, error) {
	root := engine.AccessibilityNode{Role: "WebArea", Name: p.title}
	for _, el := range p.Elements {
		root.Children = append(root.Children, engine.AccessibilityNode{Role: el.Role, Name: el.Name})
	}
	return root, nil
}

func (p *Page) Mouse() engine.Mouse { return fakeMouse{} }
func (p *Page) Keyboard() engine.Keyboard { return fakeKeyboard{} }

func (p *Page) Frames(ctx context.Context) ([]engine.Frame, error) {
	return []engine.Frame{fakeFrame{id: "main", isMain: true}}, nil
}

func (p *Page) MainFrame() engine.Frame { return fakeFrame{id: "main", isMain: true} }

func (p *Page) Locator(sel engine.EngineSelector) engine.Locator {
	return &locator{page: p, sel: sel}
}

// HandleDialog records the decision for test assertions; the fake has no
// real dialog to dismiss.
func (p *Page) HandleDialog(ctx context.Context, accept bool, promptText string) error {
	p.mu.Lock()
	p.DialogAccepted = accept
	p.DialogText = promptText
	p.mu.Unlock()
	return nil
}

// SetNetworkInterception toggles the fake's interception flag; it never
// surfaces synthetic requests on its own — tests call InterceptRequest to
// simulate one.
func (p *Page) SetNetworkInterception(ctx context.Context, enabled bool, patterns []string) error {
	p.mu.Lock()
	p.interceptEnabled = enabled
	if p.pending == nil {
		p.pending = make(map[string]chan engine.NetworkResolution)
	}
	p.mu.Unlock()
	return nil
}

// InterceptRequest simulates an intercepted request, firing the
// registered model.EventNetworkRequest callbacks and blocking until
// ResolveInterceptedRequest answers requestID.
func (p *Page) InterceptRequest(requestID, url, method string) engine.NetworkResolution {
	wait := make(chan engine.NetworkResolution, 1)
	p.pendingMu.Lock()
	if p.pending == nil {
		p.pending = make(map[string]chan engine.NetworkResolution)
	}
	p.pending[requestID] = wait
	p.pendingMu.Unlock()

	p.Emit(model.EventNetworkRequest, map[string]any{"requestId": requestID, "url": url, "method": method})
	return <-wait
}

func (p *Page) ResolveInterceptedRequest(ctx context.Context, requestID string, res engine.NetworkResolution) error {
	p.pendingMu.Lock()
	wait, ok := p.pending[requestID]
	delete(p.pending, requestID)
	p.pendingMu.Unlock()
	if !ok {
		return fmt.Errorf("enginetest: no pending request %q", requestID)
	}
	wait <- res
	return nil
}

func (p *Page) OnEvent(kind model.EventKind, cb func(payload any)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = append(p.handlers[kind], cb)
}

// Emit fires every callback registered for kind — used by tests to
// simulate external events such as an engine-initiated page close.
func (p *Page) Emit(kind model.EventKind, payload any) {
	p.mu.Lock()
	cbs := append([]func(any){}, p.handlers[kind]...)
	p.mu.Unlock()
	for _, cb := range cbs {
		cb(payload)
	}
}

func (p *Page) findElement() (*Element, error) {
	if len(p.Elements) == 0 {
		return nil, fmt.Errorf("element: not found")
	}
	return &p.Elements[0], nil
}

type locator struct {
	page *Page
	sel engine.EngineSelector
}

func (l *locator) element() (*Element, error) { return l.page.findElement() }

func (l *locator) Click(ctx context.Context, opts engine.ClickOptions) error {
	el, err := l.element()
	if err != nil {
		return err
	}
	if el.Disabled {
		return fmt.Errorf("element is not enabled")
	}
	if !el.Visible {
		return fmt.Errorf("element is not visible")
	}
	return nil
}

func (l *locator) DblClick(ctx context.Context) error { return l.Click(ctx, engine.ClickOptions{}) }

func (l *locator) Fill(ctx context.Context, value string) error {
	el, err := l.element()
	if err != nil {
		return err
	}
	el.Value = value
	return nil
}

func (l *locator) Clear(ctx context.Context) error { return l.Fill(ctx, "") }

func (l *locator) TypeSequentially(ctx context.Context, text string) error { return l.Fill(ctx, text) }

func (l *locator) Press(ctx context.Context, key string) error { return nil }

func (l *locator) Hover(ctx context.Context) error { _, err := l.element(); return err }

func (l *locator) ScrollIntoViewIfNeeded(ctx context.Context) error { return nil }

func (l *locator) SelectOption(ctx context.Context, values []string) error { return nil }

func (l *locator) Check(ctx context.Context) error { return nil }

func (l *locator) Uncheck(ctx context.Context) error { return nil }

func (l *locator) SetInputFiles(ctx context.Context, paths []string) error { return nil }

func (l *locator) DragTo(ctx context.Context, target engine.Locator) error { return nil }

func (l *locator) BoundingBox(ctx context.Context) (*engine.BoundingBox, error) {
	el, err := l.element()
	if err != nil {
		return nil, err
	}
	b := el.Bounds
	return &b, nil
}

func (l *locator) IsVisible(ctx context.Context) (bool, error) {
	el, err := l.element()
	if err != nil {
		return false, nil
	}
	return el.Visible, nil
}

func (l *locator) IsEnabled(ctx context.Context) (bool, error) {
	el, err := l.element()
	if err != nil {
		return false, err
	}
	return !el.Disabled, nil
}

func (l *locator) IsChecked(ctx context.Context) (bool, error) { return false, nil }

func (l *locator) IsDisabled(ctx context.Context) (bool, error) {
	el, err := l.element()
	if err != nil {
		return false, err
	}
	return el.Disabled, nil
}

func (l *locator) InnerText(ctx context.Context) (string, error) {
	el, err := l.element()
	if err != nil {
		return "", err
	}
	return el.Name, nil
}

func (l *locator) InputValue(ctx context.Context) (string, error) {
	el, err := l.element()
	if err != nil {
		return "", err
	}
	return el.Value, nil
}

func (l *locator) GetAttribute(ctx context.Context, name string) (string, error) { return "", nil }

func (l *locator) Evaluate(ctx context.Context, script string) (any, error) { return nil, nil }

func (l *locator) WaitFor(ctx context.Context, state string) error {
	el, err := l.element()
	if err != nil {
		if state == "hidden" {
			return nil
		}
		return err
	}
	switch state {
	case "visible":
		if !el.Visible {
			return fmt.Errorf("waiting for element to be visible")
		}
	case "hidden":
		if el.Visible {
			return fmt.Errorf("element still visible")
		}
	case "enabled":
		if el.Disabled {
			return fmt.Errorf("element is not enabled")
		}
	case "disabled":
		if !el.Disabled {
			return fmt.Errorf("element is not disabled")
		}
	}
	return nil
}

func (l *locator) ContentFrame(ctx context.Context) (engine.Frame, error) {
	return nil, fmt.Errorf("no content frame")
}

func (l *locator) AriaSnapshot(ctx context.Context) (engine.AccessibilityNode, error) {
	el, err := l.element()
	if err != nil {
		return engine.AccessibilityNode{}, err
	}
	return engine.AccessibilityNode{Role: el.Role, Name: el.Name}, nil
}

func (l *locator) Count(ctx context.Context) (int, error) { return len(l.page.Elements), nil }

type fakeMouse struct{}

func (fakeMouse) Click(ctx context.Context, x, y float64) error { return nil }
func (fakeMouse) DblClick(ctx context.Context, x, y float64) error { return nil }
func (fakeMouse) Move(ctx context.Context, x, y float64) error { return nil }

type fakeKeyboard struct{}

func (fakeKeyboard) Type(ctx context.Context, text string) error { return nil }
func (fakeKeyboard) Press(ctx context.Context, key string) error { return nil }

type fakeFrame struct {
	id string
	isMain bool
}

func (f fakeFrame) ID() string { return f.id }
func (f fakeFrame) Name() string { return f.id }
func (f fakeFrame) IsMain() bool { return f.isMain }
