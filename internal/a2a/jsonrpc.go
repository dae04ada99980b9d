// Package a2a defines the agent-to-agent wire protocol: the JSON-RPC 2.0
// envelope, the error-code taxonomy, agent cards, and the request/response
// payloads exchanged between agents.
package a2a

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Version is the JSON-RPC protocol version carried by every message.
const Version = "2.0"

// MethodInvokeCapability is the single RPC method used for capability invocation.
const MethodInvokeCapability = "invoke_capability"

// Validation failures for JSON-RPC envelopes.
var (
	ErrInvalidVersion    = errors.New("invalid jsonrpc version")
	ErrMalformedRequest  = errors.New("method-bearing message carries result or error")
	ErrMalformedResponse = errors.New("response must carry exactly one of result or error")
)

// Message is a JSON-RPC 2.0 envelope. Exactly one of the following holds for
// a well-formed message: it is a request (method and id set), a notification
// (method set, id unset), or a response (method unset, exactly one of
// result/error set).
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewRequest builds a request envelope with a string id.
func NewRequest(id, method string, params any) (Message, error) {
	rawID, err := json.Marshal(id)
	if err != nil {
		return Message{}, fmt.Errorf("marshal id: %w", err)
	}
	rawParams, err := marshalOptional(params)
	if err != nil {
		return Message{}, fmt.Errorf("marshal params: %w", err)
	}
	return Message{JSONRPC: Version, ID: rawID, Method: method, Params: rawParams}, nil
}

// NewResponse builds a success response envelope correlated to the given id.
func NewResponse(id json.RawMessage, result any) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, fmt.Errorf("marshal result: %w", err)
	}
	return Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response envelope. id may be nil when the
// originating request id could not be determined (e.g. a parse error).
func NewErrorResponse(id json.RawMessage, rpcErr *Error) Message {
	return Message{JSONRPC: Version, ID: id, Error: rpcErr}
}

// NewNotification builds a notification envelope (no id, no response expected).
func NewNotification(method string, params any) (Message, error) {
	raw, err := marshalOptional(params)
	if err != nil {
		return Message{}, fmt.Errorf("marshal params: %w", err)
	}
	return Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

// IsRequest reports whether the message is a request.
func (m *Message) IsRequest() bool {
	return m.Method != "" && len(m.ID) > 0
}

// IsNotification reports whether the message is a notification.
func (m *Message) IsNotification() bool {
	return m.Method != "" && len(m.ID) == 0
}

// IsResponse reports whether the message is a response.
func (m *Message) IsResponse() bool {
	return m.Method == "" && (len(m.Result) > 0) != (m.Error != nil)
}

// Validate checks the envelope against the JSON-RPC 2.0 message-shape rules.
func (m *Message) Validate() error {
	if m.JSONRPC != Version {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, m.JSONRPC)
	}
	if m.Method != "" {
		if len(m.Result) > 0 || m.Error != nil {
			return ErrMalformedRequest
		}
		return nil
	}
	if (len(m.Result) > 0) == (m.Error != nil) {
		return ErrMalformedResponse
	}
	return nil
}

// StringID returns the envelope id as a string, when it is a JSON string.
func (m *Message) StringID() (string, bool) {
	var id string
	if err := json.Unmarshal(m.ID, &id); err != nil {
		return "", false
	}
	return id, true
}

// NewRequestID returns a globally unique opaque request id, used to correlate
// streaming responses to their originating request.
func NewRequestID() string {
	return uuid.NewString()
}

func marshalOptional(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
