// Package rpcerr implements BAP's closed error taxonomy: a
// fixed set of integer codes, each carrying a retryability flag, an
// optional retry-after hint, and machine-readable details.
//
// Grounded on internal/mcp/errors.go's StructuredError and
// RetryDefaultsForCode — BAP generalizes snake_case string
// codes into the closed integer code space a JSON-RPC client expects,
// while keeping the same "every field is self-describing, no lookup table
// required by the caller" design.
package rpcerr

import "encoding/json"

// Code is one of the closed set of BAP error codes.
type Code int

// Protocol errors.
const (
	CodeParseError Code = -32700
	CodeInvalidRequest Code = -32600
	CodeMethodNotFound Code = -32601
	CodeInvalidParams Code = -32602
	CodeInternal Code = -32603
)

// Lifecycle errors.
const (
	CodeNotInitialized Code = -32001
	CodeAlreadyInitialized Code = -32002
	CodeBrowserNotLaunched Code = -32003
)

// Element errors (all retryable).
const (
	CodeElementNotFound Code = -32010
	CodeElementNotVisible Code = -32011
	CodeElementNotEnabled Code = -32012
	CodeSelectorAmbiguous Code = -32013
)

// Navigation / timeout.
const (
	CodeNavigationFailed Code = -32020
	CodeTimeout Code = -32021
)

// Target.
const (
	CodeTargetClosed Code = -32030
	CodeExecutionContextDestroyed Code = -32031
)

// Context.
const (
	CodeContextNotFound Code = -32040
	CodeContextResourceExceeded Code = -32041
)

// Approval.
const (
	CodeApprovalRequired Code = -32050
	CodeApprovalDenied Code = -32051
	CodeApprovalTimeout Code = -32052
)

// Frame.
const (
	CodeFrameNotFound Code = -32060
	CodeFrameDomainNotAllowed Code = -32061
)

// Stream.
const (
	CodeStreamNotFound Code = -32070
	CodeStreamCancelled Code = -32071
)

// Authorization.
const CodeAuthorization Code = -32023

// Rate limiting reuses a generic retryable server error code, per spec
// (exceeding the limit raises a retryable error).
const CodeRateLimited Code = -32029

// Data carries the machine-readable payload of every BAP error's
// data field.
type Data struct {
	Retryable bool `json:"retryable"`
	RetryAfterMs int `json:"retryAfterMs,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Error is a BAP taxonomy error: a wire-ready {code, message, data} object
// that also satisfies the Go error interface so it can flow through normal
// call chains until it reaches the dispatcher's encode step.
type Error struct {
	Code Code
	Message string
	Data Data

	// AuditEvent, if set, names the audit.Event this error corresponds to;
	// the dispatcher copies it onto the audit entry it records for this
	// call. Never marshaled to the wire response.
	AuditEvent string
}

func (e *Error) Error() string {
	return e.Message
}

// New constructs an Error with defaults for the given code applied first,
// then any options layered on top — mirroring
// RetryDefaultsForCode-then-options ordering.
func New(code Code, message string, opts ...Option) *Error {
	e := &Error{Code: code, Message: message}
	for _, d := range retryDefaults(code) {
		d(e)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Option customizes an Error beyond its code defaults.
type Option func(*Error)

// WithDetails attaches a JSON-marshalable details object.
func WithDetails(v any) Option {
	return func(e *Error) {
		payload, err := json.Marshal(v)
		if err != nil {
			return
		}
		e.Data.Details = payload
	}
}

// WithRetryAfterMs overrides the retry-after hint.
func WithRetryAfterMs(ms int) Option {
	return func(e *Error) { e.Data.RetryAfterMs = ms }
}

// WithRetryable overrides the retryable flag.
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.Data.Retryable = retryable }
}

// WithRequiredScopes attaches the scopes an Authorization error is missing.
func WithRequiredScopes(scopes []string) Option {
	return WithDetails(struct {
			RequiredScopes []string `json:"requiredScopes"`
		}{scopes})
}

// WithAuditEvent tags the error with the audit.Event name the dispatcher
// should record for this call.
func WithAuditEvent(event string) Option {
	return func(e *Error) { e.AuditEvent = event }
}

// retryDefaults mirrors RetryDefaultsForCode: codes that
// represent transient engine/navigation/timeout conditions default to
// retryable; policy and protocol errors default to non-retryable.
func retryDefaults(code Code) []Option {
	switch code {
	case CodeElementNotFound, CodeElementNotVisible, CodeElementNotEnabled, CodeSelectorAmbiguous:
		return []Option{WithRetryable(true)}
	case CodeNavigationFailed:
		return []Option{WithRetryable(true), WithRetryAfterMs(1000)}
	case CodeTimeout:
		return []Option{WithRetryable(true)}
	case CodeRateLimited:
		return []Option{WithRetryable(true)}
	case CodeApprovalTimeout:
		return []Option{WithRetryable(false)}
	default:
		return []Option{WithRetryable(false)}
	}
}

// ToResponseError converts an Error to the wire ErrorObject shape. Callers
// outside this package should go through rpcerr.Translate instead of
// constructing this directly.
func (e *Error) MarshalData() json.RawMessage {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil
	}
	return payload
}
