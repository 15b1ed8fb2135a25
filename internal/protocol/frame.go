// Package protocol implements the BAP wire codec: JSON-RPC 2.0 request,
// response, and notification frames over a WebSocket text connection.
//
// Grounded on internal/mcp/protocol.go of the reference codebase: a request's
// id must distinguish "absent" from "explicit null" so the dispatcher can
// tell a notification from a malformed request, which encoding/json's
// zero-value semantics cannot do on their own.
package protocol

import (
	"bytes"
	"encoding/json"
)

// Version is the BAP protocol version this codec implements.
const Version = "1.3.0"

// Request is an incoming JSON-RPC 2.0 request or notification frame.
// Notifications never carry an id; requests always do.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID any `json:"id,omitempty"`
	Method string `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`

	idPresent bool
	idExplicitNull bool
	idInvalidFormat bool
}

// UnmarshalJSON records whether "id" was present in the frame and whether
// it was an explicit null, which a plain struct tag cannot distinguish from
// "absent" once decoded into the any-typed ID field.
func (r *Request) UnmarshalJSON(data []byte) error {
	type shape struct {
		JSONRPC string `json:"jsonrpc"`
		Method string `json:"method"`
		Params json.RawMessage `json:"params,omitempty"`
	}
	var s shape
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	r.JSONRPC = s.JSONRPC
	r.Method = s.Method
	r.Params = s.Params
	r.ID = nil
	r.idExplicitNull = false
	r.idInvalidFormat = false

	rawID, present := fields["id"]
	r.idPresent = present
	if !present {
		return nil
	}

	trimmed := bytes.TrimSpace(rawID)
	if bytes.Equal(trimmed, []byte("null")) {
		r.idExplicitNull = true
		return nil
	}

	var parsed any
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		return err
	}
	switch parsed.(type) {
	case string, float64:
		r.ID = parsed
	default:
		r.idInvalidFormat = true
	}
	return nil
}

// IsNotification reports whether this frame carries no id at all.
func (r Request) IsNotification() bool {
	return !r.idPresent
}

// HasValidID reports whether the frame carries a usable (non-null,
// correctly-typed) id.
func (r Request) HasValidID() bool {
	return r.idPresent && !r.idExplicitNull && !r.idInvalidFormat
}

// HasMalformedID reports an explicit null or a non-string/non-number id —
// both are protocol violations for a request (notifications simply omit id).
func (r Request) HasMalformedID() bool {
	return r.idPresent && (r.idExplicitNull || r.idInvalidFormat)
}

// Response is an outgoing JSON-RPC 2.0 response frame.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID any `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error *ErrorObject `json:"error,omitempty"`
}

// ErrorObject is the wire shape of a JSON-RPC error.
type ErrorObject struct {
	Code int `json:"code"`
	Message string `json:"message"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Notification is an outgoing JSON-RPC 2.0 notification frame (event push).
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method string `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// NewResult builds a successful response frame, marshaling result with the
// encoder BAP uses everywhere so failures degrade to a fixed internal-error
// frame instead of propagating a marshal panic to the caller.
func NewResult(id any, result any) Response {
	payload, err := json.Marshal(result)
	if err != nil {
		return Response{
			JSONRPC: "2.0",
			ID: id,
			Error: &ErrorObject{
				Code: CodeInternalError,
				Message: "internal error",
			},
		}
	}
	return Response{JSONRPC: "2.0", ID: id, Result: payload}
}

// NewNotification builds an outgoing notification frame.
func NewNotification(method string, params any) Notification {
	payload, _ := json.Marshal(params)
	return Notification{JSONRPC: "2.0", Method: method, Params: payload}
}

// CodeInternalError mirrors rpcerr.CodeInternal so this package has no
// import cycle back onto the error taxonomy for the one default it needs.
const CodeInternalError = -32603

// Classify reports what kind of frame a raw message is, without fully
// decoding params — used by the codec to route before dispatch.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameRequest
	FrameNotification
	FrameResponse
)

// ClassifyRaw inspects a raw frame for the presence of "method" vs
// "result"/"error" to tell requests and notifications from (unexpected)
// response frames sent by a misbehaving client.
func ClassifyRaw(data []byte) FrameKind {
	var probe struct {
		Method *string `json:"method"`
		Result json.RawMessage `json:"result"`
		Error json.RawMessage `json:"error"`
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return FrameUnknown
	}
	if probe.Method != nil {
		if len(probe.ID) == 0 {
			return FrameNotification
		}
		return FrameRequest
	}
	if probe.Result != nil || probe.Error != nil {
		return FrameResponse
	}
	return FrameUnknown
}
