package rodengine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/model"
)

// Page wraps a single rod.Page.
type Page struct {
	rod *rod.Page
	log *zap.Logger
	timeout time.Duration

	intercepts *interceptState
	onNetworkRequest func(payload any)
}

func (p *Page) withTimeout(ctx context.Context) *rod.Page {
	if p.timeout <= 0 {
		return p.rod.Context(ctx)
	}
	return p.rod.Context(ctx).Timeout(p.timeout)
}

func (p *Page) ID() string {
	info, err := p.rod.Info()
	if err != nil {
		return ""
	}
	return string(info.TargetID)
}

func (p *Page) Goto(ctx context.Context, url string) error {
	if err := p.withTimeout(ctx).Navigate(url); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return p.withTimeout(ctx).WaitLoad()
}

func (p *Page) Reload(ctx context.Context) error {
	if err := p.withTimeout(ctx).Reload(); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *Page) GoBack(ctx context.Context) error {
	if err := p.withTimeout(ctx).NavigateBack(); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *Page) GoForward(ctx context.Context) error {
	_, err := p.withTimeout(ctx).Eval(`() => history.forward()`)
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *Page) Close(ctx context.Context) error {
	return p.rod.Close()
}

func (p *Page) URL() string {
	info, err := p.rod.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *Page) Title(ctx context.Context) (string, error) {
	info, err := p.withTimeout(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (p *Page) ViewportSize() model.Viewport {
	metrics, err := proto.PageGetLayoutMetrics{}.Call(p.rod)
	if err != nil || metrics == nil {
		return model.Viewport{}
	}
	return model.Viewport{Width: int(metrics.LayoutViewport.ClientWidth), Height: int(metrics.LayoutViewport.ClientHeight)}
}

func (p *Page) SetViewportSize(ctx context.Context, vp model.Viewport) error {
	return p.withTimeout(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width: vp.Width,
			Height: vp.Height,
	})
}

func (p *Page) Content(ctx context.Context) (string, error) {
	return p.withTimeout(ctx).HTML()
}

func (p *Page) InnerText(ctx context.Context, cssSelector string) (string, error) {
	el, err := p.withTimeout(ctx).Element(cssSelector)
	if err != nil {
		return "", fmt.Errorf("element not found: %w", err)
	}
	return el.Text()
}

func (p *Page) PDF(ctx context.Context) ([]byte, error) {
	reader, err := p.withTimeout(ctx).PDF(&proto.PagePrintToPDF{})
	if err != nil {
		return nil, fmt.Errorf("rodengine: pdf: %w", err)
	}
	buf := make([]byte, 0)
	chunk := make([]byte, 32*1024)
	for {
		n, rerr := reader.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	return buf, nil
}

func (p *Page) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return p.withTimeout(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (p *Page) Evaluate(ctx context.Context, script string, args ...any) (any, error) {
	res, err := p.withTimeout(ctx).Eval(script, args...)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

func (p *Page) AriaSnapshot(ctx context.Context) (engine.AccessibilityNode, error) {
	root, err := proto.AccessibilityGetFullAXTree{}.Call(p.rod)
	if err != nil || root == nil {
		return engine.AccessibilityNode{}, fmt.Errorf("rodengine: aria snapshot: %w", err)
	}
	return convertAXTree(root.Nodes), nil
}

func convertAXTree(nodes []*proto.AccessibilityAXNode) engine.AccessibilityNode {
	if len(nodes) == 0 {
		return engine.AccessibilityNode{Role: "WebArea"}
	}
	n := nodes[0]
	out := engine.AccessibilityNode{}
	if n.Role != nil {
		out.Role = fmt.Sprint(n.Role.Value)
	}
	if n.Name != nil {
		out.Name = fmt.Sprint(n.Name.Value)
	}
	return out
}

func (p *Page) Mouse() engine.Mouse { return &mouse{page: p} }
func (p *Page) Keyboard() engine.Keyboard { return &keyboard{page: p} }

func (p *Page) Frames(ctx context.Context) ([]engine.Frame, error) {
	return []engine.Frame{&frame{id: "main", isMain: true}}, nil
}

func (p *Page) MainFrame() engine.Frame { return &frame{id: "main", isMain: true} }

func (p *Page) Locator(sel engine.EngineSelector) engine.Locator {
	return &locator{page: p, sel: sel}
}

// OnEvent subscribes to the rod page's raw CDP event stream, filtering to
// the kinds BAP's event subscription model names. Callback
// registration only arms the listener; internal/events decides whether a
// subscribed session actually receives a notification for it.
func (p *Page) OnEvent(kind model.EventKind, cb func(payload any)) {
	switch kind {
	case model.EventPageClose:
		go p.rod.EachEvent(func(e *proto.InspectorTargetCrashed) {
				cb(map[string]any{"reason": "crashed"})
		})()
	case model.EventDialog:
		go p.rod.EachEvent(func(e *proto.PageJavascriptDialogOpening) {
				cb(map[string]any{"message": e.Message, "type": string(e.Type)})
		})()
	case model.EventNetworkRequest:
		p.onNetworkRequest = cb
	}
}

type mouse struct{ page *Page }

func (m *mouse) Click(ctx context.Context, x, y float64) error {
	return m.page.withTimeout(ctx).Mouse.MoveTo(proto.NewPoint(x, y))
}
func (m *mouse) DblClick(ctx context.Context, x, y float64) error {
	return m.page.withTimeout(ctx).Mouse.MoveTo(proto.NewPoint(x, y))
}
func (m *mouse) Move(ctx context.Context, x, y float64) error {
	return m.page.withTimeout(ctx).Mouse.MoveTo(proto.NewPoint(x, y))
}

type keyboard struct{ page *Page }

func (k *keyboard) Type(ctx context.Context, text string) error {
	return proto.InputInsertText{Text: text}.Call(k.page.withTimeout(ctx))
}
func (k *keyboard) Press(ctx context.Context, key string) error { return nil }

type frame struct {
	id string
	isMain bool
}

func (f *frame) ID() string { return f.id }
func (f *frame) Name() string { return f.id }
func (f *frame) IsMain() bool { return f.isMain }
