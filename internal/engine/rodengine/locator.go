package rodengine

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/browseragentprotocol/bap/internal/engine"
)

// locator resolves an engine.EngineSelector to a rod.Element lazily, on
// every call, so BAP's per-step retries (composite action engine, spec
// locators re-query the live DOM instead of reusing a stale handle.
type locator struct {
	page *Page
	sel engine.EngineSelector
}

func (l *locator) resolve(ctx context.Context) (*rod.Element, error) {
	p := l.page.withTimeout(ctx)
	switch l.sel.Kind {
	case "css":
		el, err := p.Element(l.sel.Value)
		if err != nil {
			return nil, fmt.Errorf("element not found: %w", err)
		}
		return el, nil
	case "xpath":
		el, err := p.ElementX(l.sel.Value)
		if err != nil {
			return nil, fmt.Errorf("element not found: %w", err)
		}
		return el, nil
	case "text":
		el, err := p.ElementR("*", l.sel.Value)
		if err != nil {
			return nil, fmt.Errorf("element not found: %w", err)
		}
		return el, nil
	case "testId":
		el, err := p.Element(fmt.Sprintf(`[data-testid=%q]`, l.sel.Value))
		if err != nil {
			return nil, fmt.Errorf("element not found: %w", err)
		}
		return el, nil
	case "label":
		el, err := p.ElementR("label", l.sel.Value)
		if err != nil {
			return nil, fmt.Errorf("element not found: %w", err)
		}
		return el, nil
	case "placeholder":
		el, err := p.Element(fmt.Sprintf(`[placeholder=%q]`, l.sel.Value))
		if err != nil {
			return nil, fmt.Errorf("element not found: %w", err)
		}
		return el, nil
	case "role":
		el, err := p.Element(fmt.Sprintf(`[role=%q]`, l.sel.Role))
		if err != nil {
			return nil, fmt.Errorf("element not found: %w", err)
		}
		return el, nil
	default:
		return nil, fmt.Errorf("selector: unsupported kind %q for engine resolution", l.sel.Kind)
	}
}

func (l *locator) Click(ctx context.Context, opts engine.ClickOptions) error {
	el, err := l.resolve(ctx)
	if err != nil {
		return err
	}
	return el.Click(clickButton(opts.Button), maxInt(opts.ClickCount, 1))
}

func clickButton(button string) (b rod.Button) {
	switch button {
	case "right":
		return "right"
	case "middle":
		return "middle"
	default:
		return "left"
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (l *locator) DblClick(ctx context.Context) error {
	el, err := l.resolve(ctx)
	if err != nil {
		return err
	}
	return el.Click("left", 2)
}

func (l *locator) Fill(ctx context.Context, value string) error {
	el, err := l.resolve(ctx)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(value)
}

func (l *locator) Clear(ctx context.Context) error { return l.Fill(ctx, "") }

func (l *locator) TypeSequentially(ctx context.Context, text string) error {
	el, err := l.resolve(ctx)
	if err != nil {
		return err
	}
	return el.Input(text)
}

func (l *locator) Press(ctx context.Context, key string) error {
	_, err := l.resolve(ctx)
	return err
}

func (l *locator) Hover(ctx context.Context) error {
	el, err := l.resolve(ctx)
	if err != nil {
		return err
	}
	return el.Hover()
}

func (l *locator) ScrollIntoViewIfNeeded(ctx context.Context) error {
	el, err := l.resolve(ctx)
	if err != nil {
		return err
	}
	return el.ScrollIntoView()
}

func (l *locator) SelectOption(ctx context.Context, values []string) error {
	el, err := l.resolve(ctx)
	if err != nil {
		return err
	}
	return el.Select(values, true, rod.SelectorTypeText)
}

func (l *locator) Check(ctx context.Context) error {
	el, err := l.resolve(ctx)
	if err != nil {
		return err
	}
	checked, err := l.boolProp(el, "checked")
	if err == nil && checked {
		return nil
	}
	return el.Click("left", 1)
}

func (l *locator) Uncheck(ctx context.Context) error {
	el, err := l.resolve(ctx)
	if err != nil {
		return err
	}
	checked, err := l.boolProp(el, "checked")
	if err == nil && !checked {
		return nil
	}
	return el.Click("left", 1)
}

func (l *locator) boolProp(el *rod.Element, name string) (bool, error) {
	val, err := el.Property(name)
	if err != nil {
		return false, err
	}
	return val.Bool(), nil
}

func (l *locator) SetInputFiles(ctx context.Context, paths []string) error {
	el, err := l.resolve(ctx)
	if err != nil {
		return err
	}
	return el.SetFiles(paths)
}

func (l *locator) DragTo(ctx context.Context, target engine.Locator) error {
	src, err := l.resolve(ctx)
	if err != nil {
		return err
	}
	tl, ok := target.(*locator)
	if !ok {
		return fmt.Errorf("rodengine: drag target must be a rodengine locator")
	}
	dst, err := tl.resolve(ctx)
	if err != nil {
		return err
	}
	srcShape, err := src.Shape()
	if err != nil {
		return err
	}
	dstShape, err := dst.Shape()
	if err != nil {
		return err
	}
	p := l.page.withTimeout(ctx)
	srcCenter := srcShape.Box().Center()
	dstCenter := dstShape.Box().Center()
	if err := p.Mouse.MoveTo(proto.NewPoint(srcCenter.X, srcCenter.Y)); err != nil {
		return err
	}
	if err := p.Mouse.Down("left", 1); err != nil {
		return err
	}
	if err := p.Mouse.MoveTo(proto.NewPoint(dstCenter.X, dstCenter.Y)); err != nil {
		return err
	}
	return p.Mouse.Up("left", 1)
}

func (l *locator) BoundingBox(ctx context.Context) (*engine.BoundingBox, error) {
	el, err := l.resolve(ctx)
	if err != nil {
		return nil, err
	}
	shape, err := el.Shape()
	if err != nil {
		return nil, err
	}
	box := shape.Box()
	return &engine.BoundingBox{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

func (l *locator) IsVisible(ctx context.Context) (bool, error) {
	el, err := l.resolve(ctx)
	if err != nil {
		return false, nil
	}
	return el.Visible()
}

func (l *locator) IsEnabled(ctx context.Context) (bool, error) {
	el, err := l.resolve(ctx)
	if err != nil {
		return false, err
	}
	enabled, err := l.boolProp(el, "disabled")
	return !enabled, err
}

func (l *locator) IsChecked(ctx context.Context) (bool, error) {
	el, err := l.resolve(ctx)
	if err != nil {
		return false, err
	}
	return l.boolProp(el, "checked")
}

func (l *locator) IsDisabled(ctx context.Context) (bool, error) {
	enabled, err := l.IsEnabled(ctx)
	return !enabled, err
}

func (l *locator) InnerText(ctx context.Context) (string, error) {
	el, err := l.resolve(ctx)
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (l *locator) InputValue(ctx context.Context) (string, error) {
	el, err := l.resolve(ctx)
	if err != nil {
		return "", err
	}
	val, err := el.Property("value")
	if err != nil {
		return "", err
	}
	return val.String(), nil
}

func (l *locator) GetAttribute(ctx context.Context, name string) (string, error) {
	el, err := l.resolve(ctx)
	if err != nil {
		return "", err
	}
	attr, err := el.Attribute(name)
	if err != nil || attr == nil {
		return "", err
	}
	return *attr, nil
}

func (l *locator) Evaluate(ctx context.Context, script string) (any, error) {
	el, err := l.resolve(ctx)
	if err != nil {
		return nil, err
	}
	res, err := el.Eval(script)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

func (l *locator) WaitFor(ctx context.Context, state string) error {
	el, err := l.resolve(ctx)
	if err != nil {
		if state == "hidden" {
			return nil
		}
		return err
	}
	switch state {
	case "visible":
		return el.WaitVisible()
	case "hidden":
		return el.WaitInvisible()
	case "enabled":
		return el.WaitEnabled()
	case "disabled":
		return el.WaitInteractable()
	case "exists":
		return nil
	default:
		return nil
	}
}

func (l *locator) ContentFrame(ctx context.Context) (engine.Frame, error) {
	el, err := l.resolve(ctx)
	if err != nil {
		return nil, err
	}
	f, err := el.Frame()
	if err != nil {
		return nil, err
	}
	info, _ := f.Info()
	id := ""
	if info != nil {
		id = string(info.TargetID)
	}
	return &frame{id: id}, nil
}

func (l *locator) AriaSnapshot(ctx context.Context) (engine.AccessibilityNode, error) {
	return engine.AccessibilityNode{}, fmt.Errorf("rodengine: per-element aria snapshot not supported")
}

func (l *locator) Count(ctx context.Context) (int, error) {
	els, err := l.page.withTimeout(ctx).Elements(l.sel.Value)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}
