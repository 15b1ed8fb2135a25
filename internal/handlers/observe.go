package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/browseragentprotocol/bap/internal/rpcerr"
	"github.com/browseragentprotocol/bap/internal/selector"
	"github.com/browseragentprotocol/bap/internal/session"
)

// largeResultThreshold is the byte size above which a binary result is
// handed off to internal/stream instead of being inlined in the response
// ("large results ... may be split into chunks").
const largeResultThreshold = 256 * 1024

// emitBinary returns an inline base64 payload for small results, or opens
// a stream and returns its id for large ones.
func (h *handlers) emitBinary(data []byte, contentType string) map[string]any {
	if len(data) <= largeResultThreshold {
		return map[string]any{
			"contentType": contentType,
			"data": base64.StdEncoding.EncodeToString(data),
		}
	}
	id := h.d.Streams.Open(data, 0)
	return map[string]any{
		"contentType": contentType,
		"streamId": id,
		"size": len(data),
	}
}

type observeScreenshotParams struct {
	PageID string `json:"pageId"`
	FullPage bool `json:"fullPage"`
}

func (h *handlers) observeScreenshot(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p observeScreenshotParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, _, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	data, err := page.Screenshot(ctx, p.FullPage)
	if err != nil {
		return nil, rpcerr.Translate(err)
	}
	return h.emitBinary(data, "image/png"), nil
}

func (h *handlers) observeAccessibility(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p storagePageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, _, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	tree, err := page.AriaSnapshot(ctx)
	if err != nil {
		return nil, rpcerr.Translate(err)
	}
	return map[string]any{"tree": tree}, nil
}

func (h *handlers) observeAriaSnapshot(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	return h.observeAccessibility(ctx, sess, params)
}

func (h *handlers) observeDOM(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p storagePageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, _, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	html, err := page.Content(ctx)
	if err != nil {
		return nil, rpcerr.Translate(err)
	}
	html = h.d.Redactor.Redact(html)
	if len(html) <= largeResultThreshold {
		return map[string]any{"html": html}, nil
	}
	id := h.d.Streams.Open([]byte(html), 0)
	return map[string]any{"streamId": id, "size": len(html)}, nil
}

func (h *handlers) observeContent(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p storagePageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, _, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	text, err := page.InnerText(ctx, "body")
	if err != nil {
		return nil, rpcerr.Translate(err)
	}
	return map[string]any{"text": h.d.Redactor.Redact(text)}, nil
}

func (h *handlers) observePDF(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p storagePageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, _, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	data, err := page.PDF(ctx)
	if err != nil {
		return nil, rpcerr.Translate(err)
	}
	return h.emitBinary(data, "application/pdf"), nil
}

type observeElementParams struct {
	PageID string `json:"pageId"`
	Selector string `json:"selector"`
}

// observeElement reports a single element's state, redacting password /
// data-sensitive values per credential-redaction rule for
// observe/element's "value" property.
func (h *handlers) observeElement(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p observeElementParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, pageID, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	sel, err := selector.Parse(p.Selector)
	if err != nil {
		return nil, rpcerr.New(rpcerr.CodeInvalidParams, "invalid selector: "+err.Error())
	}
	if err := h.d.SelGuard.Check(sel); err != nil {
		return nil, err
	}
	locator, err := resolveLocator(h.d.Registry, page, pageID, sel)
	if err != nil {
		return nil, err
	}

	visible, _ := locator.IsVisible(ctx)
	enabled, _ := locator.IsEnabled(ctx)
	checked, _ := locator.IsChecked(ctx)
	value, _ := locator.InputValue(ctx)
	sensitive, _ := locator.GetAttribute(ctx, "data-sensitive")
	inputType, _ := locator.GetAttribute(ctx, "type")
	if inputType == "password" || sensitive != "" {
		value = "[REDACTED]"
	} else {
		value = h.d.Redactor.Redact(value)
	}
	box, _ := locator.BoundingBox(ctx)

	return map[string]any{
		"visible": visible,
		"enabled": enabled,
		"checked": checked,
		"value": value,
		"bounds": box,
	}, nil
}
