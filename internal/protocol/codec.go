package protocol

import (
	"encoding/json"
	"fmt"
)

// MaxFrameSize is the default maximum accepted WebSocket text frame size,
// in bytes. Oversize frames close the connection.
const MaxFrameSize = 10 * 1024 * 1024

// ErrInvalidMessage is returned by Decode for any frame that is not valid
// JSON or does not resemble a JSON-RPC 2.0 object. The caller must never
// surface the underlying parse error to the client — only this generic
// sentinel — to avoid leaking parser internals.
var ErrInvalidMessage = fmt.Errorf("invalid JSON-RPC message")

// Decode parses a raw WebSocket text frame into a Request. Any decode
// failure is reported as ErrInvalidMessage; the caller is responsible for
// encoding an error Response with a null id.
func Decode(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, ErrInvalidMessage
	}
	if req.JSONRPC != "2.0" {
		return Request{}, ErrInvalidMessage
	}
	if req.Method == "" {
		return Request{}, ErrInvalidMessage
	}
	return req, nil
}

// Encode serializes any outgoing frame (Response or Notification) to bytes
// ready for a WebSocket text frame.
func Encode(frame any) ([]byte, error) {
	return json.Marshal(frame)
}
