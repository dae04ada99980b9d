package a2a

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC error codes. The -32xxx range follows the JSON-RPC 2.0 spec; the
// -320xx range carries application-level agent errors.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeCapabilityNotFound = -32000
	CodeCapabilityError    = -32001
	CodeAuthentication     = -32002
	CodeAuthorization      = -32003
	CodeRateLimited        = -32004
)

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError builds an error object with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithData attaches arbitrary JSON data to the error. Marshal failures are
// ignored and leave Data unset.
func (e *Error) WithData(v any) *Error {
	if raw, err := json.Marshal(v); err == nil {
		e.Data = raw
	}
	return e
}

// ParseError reports malformed JSON on the wire.
func ParseError() *Error {
	return NewError(CodeParseError, "Parse error")
}

// InvalidRequest reports a structurally invalid JSON-RPC envelope.
func InvalidRequest() *Error {
	return NewError(CodeInvalidRequest, "Invalid Request")
}

// MethodNotFound reports an unknown RPC method.
func MethodNotFound() *Error {
	return NewError(CodeMethodNotFound, "Method not found")
}

// InvalidParams reports undecodable or invalid request parameters.
func InvalidParams() *Error {
	return NewError(CodeInvalidParams, "Invalid params")
}

// InternalError reports an unexpected server-side failure.
func InternalError() *Error {
	return NewError(CodeInternalError, "Internal error")
}

// CapabilityNotFound reports that the target agent does not advertise the
// requested capability.
func CapabilityNotFound(capabilityID string) *Error {
	return NewError(CodeCapabilityNotFound, fmt.Sprintf("Capability '%s' not found", capabilityID))
}

// CapabilityError reports that a capability was found but failed to execute.
func CapabilityError(message string) *Error {
	return NewError(CodeCapabilityError, message)
}

// AuthenticationError reports missing or invalid credentials.
func AuthenticationError() *Error {
	return NewError(CodeAuthentication, "Authentication required")
}

// AuthorizationError reports valid credentials without sufficient access.
func AuthorizationError() *Error {
	return NewError(CodeAuthorization, "Not authorized")
}

// RateLimitError reports that the caller exceeded the target's rate limit.
func RateLimitError() *Error {
	return NewError(CodeRateLimited, "Rate limit exceeded")
}
