package handlers

import (
	"context"
	"encoding/json"

	"github.com/browseragentprotocol/bap/internal/dispatcher"
	"github.com/browseragentprotocol/bap/internal/engine"
	"github.com/browseragentprotocol/bap/internal/rpcerr"
	"github.com/browseragentprotocol/bap/internal/selector"
	"github.com/browseragentprotocol/bap/internal/session"
)

// actionParams is the wire shape shared by every action/* method
// (per-action params, narrowed to a single immediate call rather than a
// composite sequence).
type actionParams struct {
	PageID string `json:"pageId"`
	Selector string `json:"selector"`
	Value string `json:"value"`
	Paths []string `json:"paths"`
	Target string `json:"target"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Button string `json:"button"`
}

// actionStep builds the dispatcher.Handler for one action/* method name.
// "click", "dblclick", and "hover" accept coordinates directly against
// the page's Mouse rather than a Locator, for the coordinates(x,y) variant.
func (h *handlers) actionStep(name string) dispatcher.Handler {
	return func(ctx context.Context, sess *session.Session, raw json.RawMessage) (any, error) {
		var p actionParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}

		page, pageID, err := resolvePage(sess, p.PageID)
		if err != nil {
			return nil, err
		}

		if p.Selector == "" && (name == "click" || name == "dblclick" || name == "hover") && (p.X != 0 || p.Y != 0) {
			return runCoordinateAction(ctx, page, name, p.X, p.Y)
		}

		sel, err := selector.Parse(p.Selector)
		if err != nil {
			return nil, rpcerr.New(rpcerr.CodeInvalidParams, "invalid selector: "+err.Error())
		}
		if err := h.d.SelGuard.Check(sel); err != nil {
			return nil, err
		}

		reg := h.d.Registry
		locator, err := resolveLocator(reg, page, pageID, sel)
		if err != nil {
			return nil, err
		}

		if err := runLocatorAction(ctx, locator, page, h, name, p); err != nil {
			return nil, rpcerr.Translate(err)
		}
		return map[string]any{"ok": true}, nil
	}
}

func runCoordinateAction(ctx context.Context, page engine.Page, name string, x, y float64) (any, error) {
	mouse := page.Mouse()
	var err error
	switch name {
	case "click":
		err = mouse.Click(ctx, x, y)
	case "dblclick":
		err = mouse.DblClick(ctx, x, y)
	case "hover":
		err = mouse.Move(ctx, x, y)
	}
	if err != nil {
		return nil, rpcerr.Translate(err)
	}
	return map[string]any{"ok": true}, nil
}

func runLocatorAction(ctx context.Context, locator engine.Locator, page engine.Page, h *handlers, name string, p actionParams) error {
	switch name {
	case "click":
		count := 1
		return locator.Click(ctx, engine.ClickOptions{Button: p.Button, ClickCount: count})
	case "dblclick":
		return locator.DblClick(ctx)
	case "type":
		return locator.TypeSequentially(ctx, p.Value)
	case "fill":
		return locator.Fill(ctx, p.Value)
	case "clear":
		return locator.Clear(ctx)
	case "press":
		return locator.Press(ctx, p.Value)
	case "hover":
		return locator.Hover(ctx)
	case "scroll":
		return locator.ScrollIntoViewIfNeeded(ctx)
	case "selectOption":
		return locator.SelectOption(ctx, []string{p.Value})
	case "check":
		return locator.Check(ctx)
	case "uncheck":
		return locator.Uncheck(ctx)
	case "upload":
		return locator.SetInputFiles(ctx, p.Paths)
	case "drag":
		targetSel, err := selector.Parse(p.Target)
		if err != nil {
			return rpcerr.New(rpcerr.CodeInvalidParams, "invalid target selector: "+err.Error())
		}
		if err := h.d.SelGuard.Check(targetSel); err != nil {
			return err
		}
		targetLocator, err := resolveLocator(h.d.Registry, page, "", targetSel)
		if err != nil {
			return err
		}
		return locator.DragTo(ctx, targetLocator)
	default:
		return rpcerr.New(rpcerr.CodeInvalidParams, "unknown action: "+name)
	}
}
