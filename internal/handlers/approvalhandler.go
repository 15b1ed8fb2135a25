package handlers

import (
	"context"
	"encoding/json"

	"github.com/browseragentprotocol/bap/internal/approval"
	"github.com/browseragentprotocol/bap/internal/session"
)

type approvalRespondParams struct {
	ApprovalID string `json:"approvalId"`
	Decision string `json:"decision"` // "approve", "approve-session", "deny"
	Reason string `json:"reason"`
}

// approvalRespond answers a pending approval/* request.
// "approve-session" remembers the decision for every future request
// carrying the same rule fingerprint, for the life of the session.
func (h *handlers) approvalRespond(ctx context.Context, sess *session.Session, params json.RawMessage) (any, error) {
	var p approvalRespondParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	decision := approval.Decision{Approved: p.Decision == "approve" || p.Decision == "approve-session", Reason: p.Reason}
	if err := h.d.Approvals.Respond(p.ApprovalID, decision, p.Decision == "approve-session"); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}
