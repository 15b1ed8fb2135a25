package rpcerr

import (
	"context"
	"errors"
	"strings"

	"github.com/browseragentprotocol/bap/internal/protocol"
)

// Translate maps an arbitrary Go error — typically bubbling up from an
// engine call — to a BAP taxonomy Error. Engine errors are matched by
// message substring before reaching the wire; a BAP *Error already
// constructed upstream (e.g. by the policy stack) passes through unchanged.
func Translate(err error) *Error {
	if err == nil {
		return nil
	}
	var bapErr *Error
	if errors.As(err, &bapErr) {
		return bapErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(CodeTimeout, "operation timed out")
	}

	msg := err.Error()
	switch {
	case containsFold(msg, "target closed"):
		return New(CodeTargetClosed, err.Error())
	case containsFold(msg, "execution context was destroyed"),
		containsFold(msg, "execution context destroyed"):
		return New(CodeExecutionContextDestroyed, err.Error())
	case containsFold(msg, "timeout"), containsFold(msg, "timed out"):
		return New(CodeTimeout, err.Error())
	case containsFold(msg, "waiting for") && containsFold(msg, "to be visible"):
		return New(CodeElementNotVisible, err.Error())
	case containsFold(msg, "not visible"):
		return New(CodeElementNotVisible, err.Error())
	case containsFold(msg, "not enabled"), containsFold(msg, "disabled"):
		return New(CodeElementNotEnabled, err.Error())
	case containsFold(msg, "not found"), containsFold(msg, "no element"):
		return New(CodeElementNotFound, err.Error())
	case containsFold(msg, "ambiguous"), containsFold(msg, "multiple elements"):
		return New(CodeSelectorAmbiguous, err.Error())
	case containsFold(msg, "navigation"):
		return New(CodeNavigationFailed, err.Error())
	default:
		return New(CodeInternal, "internal error")
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// ToFrame converts a BAP Error into a wire Response for the given request
// id. User-visible messages never leak parser internals or stack traces —
// only the canonical sentence for the error class or (for
// target/timeout/element errors) the raw, already-sanitized engine
// message.
func ToFrame(id any, err *Error) protocol.Response {
	return protocol.Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &protocol.ErrorObject{
			Code:    int(err.Code),
			Message: err.Message,
			Data:    err.MarshalData(),
		},
	}
}

// InvalidMessageFrame builds the generic "Invalid JSON-RPC message"
// response used for unparseable input. The id is always null
// because an unparseable frame has no reliable id to echo.
func InvalidMessageFrame() protocol.Response {
	e := New(CodeParseError, "Invalid JSON-RPC message")
	return ToFrame(nil, e)
}
