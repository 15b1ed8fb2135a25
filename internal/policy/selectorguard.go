package policy

import (
	"strings"

	"github.com/browseragentprotocol/bap/internal/audit"
	"github.com/browseragentprotocol/bap/internal/rpcerr"
	"github.com/browseragentprotocol/bap/internal/selector"
)

// SelectorGuard wraps internal/selector.Validate so the dispatcher's guard
// pipeline can treat it uniformly with the other policy checks (a single
// Check(...) error-returning call per request).
type SelectorGuard struct{}

func NewSelectorGuard() *SelectorGuard { return &SelectorGuard{} }

func (g *SelectorGuard) Check(s selector.Selector) error {
	if err := selector.Validate(s); err != nil {
		return rpcerr.New(rpcerr.CodeInvalidParams, err.Error(),
			rpcerr.WithAuditEvent(selectorAuditEvent(err.Error())))
	}
	return nil
}

// selectorAuditEvent classifies a selector.Validate failure message into
// the closed audit taxonomy: an over-length value is a resource concern
// distinct from an actual blocked-pattern match.
func selectorAuditEvent(message string) string {
	if strings.Contains(message, "exceeds") {
		return audit.EventSelectorTooLong
	}
	return audit.EventSelectorInjection
}
