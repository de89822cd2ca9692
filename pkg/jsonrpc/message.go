// Package jsonrpc implements the JSON-RPC 2.0 subset spoken by the MCP gateway:
// request and response envelopes, standard error codes, and batch decoding.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the only protocol version accepted on the wire.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Implementation-defined server error codes (-32000 to -32099).
const (
	// CodeAgentNotFound is returned when tools/call names an agent that does not exist.
	CodeAgentNotFound = -32001

	// CodeResourceNotFound is returned by resources/read for a URI the server does not serve.
	CodeResourceNotFound = -32002

	// CodeRateLimited is returned by the transport when a session exceeds its request budget.
	CodeRateLimited = -32029
)

// Request is an inbound JSON-RPC request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id and so expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Validate checks the envelope fields required of every request.
func (r *Request) Validate() *Error {
	if r.JSONRPC != Version {
		return NewError(CodeInvalidRequest, fmt.Sprintf("invalid jsonrpc version %q", r.JSONRPC))
	}
	if r.Method == "" {
		return NewError(CodeInvalidRequest, "missing method")
	}
	if len(r.ID) > 0 && !validID(r.ID) {
		return NewError(CodeInvalidRequest, "id must be a string, number or null")
	}
	return nil
}

// validID accepts string, number and null ids.
func validID(id json.RawMessage) bool {
	switch b := bytes.TrimSpace(id); {
	case len(b) == 0:
		return false
	case b[0] == '"', b[0] == '-', b[0] >= '0' && b[0] <= '9':
		return true
	default:
		return bytes.Equal(b, []byte("null"))
	}
}

// Response is an outbound JSON-RPC response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResult builds a success response echoing id.
func NewResult(id json.RawMessage, result any) *Response {
	if result == nil {
		result = struct{}{}
	}
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// NewErrorResponse builds an error response echoing id.
func NewErrorResponse(id json.RawMessage, err *Error) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: err}
}

// Error is a JSON-RPC error object. It satisfies the error interface so that
// handlers can return it directly and keep its code.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewError creates an error object.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an error object with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithData attaches structured detail to the error.
func (e *Error) WithData(data any) *Error {
	e.Data = data
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}
