package handlers

import (
	"context"
	"encoding/json"

	"github.com/browseragentprotocol/bap/internal/session"
)

type streamCancelParams struct {
	StreamID string `json:"streamId"`
}

func (h *handlers) streamCancel(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p streamCancelParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := h.d.Streams.Cancel(p.StreamID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}
