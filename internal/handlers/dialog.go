package handlers

import (
	"context"
	"encoding/json"

	"github.com/browseragentprotocol/bap/internal/rpcerr"
	"github.com/browseragentprotocol/bap/internal/session"
)

type dialogHandleParams struct {
	PageID string `json:"pageId"`
	Accept bool `json:"accept"`
	PromptText string `json:"promptText"`
}

// dialogHandle answers the page's currently open alert/confirm/prompt
// dialog (dialog/handle); the page fires a dialog event on
// open, naming the expected caller round trip.
func (h *handlers) dialogHandle(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p dialogHandleParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, _, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	if err := page.HandleDialog(ctx, p.Accept, p.PromptText); err != nil {
		return nil, rpcerr.Translate(err)
	}
	return map[string]any{"ok": true}, nil
}
