package handlers

import (
	"context"
	"encoding/json"

	"github.com/browseragentprotocol/bap/internal/rpcerr"
	"github.com/browseragentprotocol/bap/internal/session"
)

type frameListItem struct {
	FrameID string `json:"frameId"`
	Name string `json:"name"`
	IsMain bool `json:"isMain"`
}

func (h *handlers) frameList(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p storagePageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, _, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	frames, err := page.Frames(ctx)
	if err != nil {
		return nil, rpcerr.Translate(err)
	}
	out := make([]frameListItem, 0, len(frames))
	for _, f := range frames {
		out = append(out, frameListItem{FrameID: f.ID(), Name: f.Name(), IsMain: f.IsMain()})
	}
	return map[string]any{"frames": out}, nil
}

type frameSwitchParams struct {
	PageID string `json:"pageId"`
	FrameID string `json:"frameId"`
}

// frameSwitch records the page's active frame context ("Frame
// Context (per page) ... subsequent actions on that page target that
// frame until switched back"). Validated against the page's live frame
// set so a stale/unknown frameId is rejected up front.
func (h *handlers) frameSwitch(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p frameSwitchParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, id, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	frames, err := page.Frames(ctx)
	if err != nil {
		return nil, rpcerr.Translate(err)
	}
	found := false
	for _, f := range frames {
		if f.ID() == p.FrameID {
			found = true
			break
		}
	}
	if !found {
		return nil, rpcerr.New(rpcerr.CodeFrameNotFound, "frame not found: "+p.FrameID)
	}
	sess.SetFrameContext(id, p.FrameID)
	return map[string]any{"ok": true}, nil
}

func (h *handlers) frameMain(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p storagePageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	page, id, err := resolvePage(sess, p.PageID)
	if err != nil {
		return nil, err
	}
	sess.SetFrameContext(id, "")
	main := page.MainFrame()
	return frameListItem{FrameID: main.ID(), Name: main.Name(), IsMain: true}, nil
}
