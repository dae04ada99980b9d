package a2a

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewRequestClassification(t *testing.T) {
	msg, err := NewRequest("123", MethodInvokeCapability, Request{
		CapabilityID: "search",
		Input:        json.RawMessage(`{"query":"test"}`),
	})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	if !msg.IsRequest() {
		t.Error("expected IsRequest to be true")
	}
	if msg.IsResponse() {
		t.Error("expected IsResponse to be false")
	}
	if msg.IsNotification() {
		t.Error("expected IsNotification to be false")
	}
	if msg.Method != MethodInvokeCapability {
		t.Errorf("method = %q, want %q", msg.Method, MethodInvokeCapability)
	}
}

func TestNewResponseClassification(t *testing.T) {
	msg, err := NewResponse(json.RawMessage(`"123"`), Response{Output: json.RawMessage(`"result"`)})
	if err != nil {
		t.Fatalf("NewResponse: %v", err)
	}

	if msg.IsRequest() {
		t.Error("expected IsRequest to be false")
	}
	if !msg.IsResponse() {
		t.Error("expected IsResponse to be true")
	}
	if msg.IsNotification() {
		t.Error("expected IsNotification to be false")
	}
}

func TestNewNotificationClassification(t *testing.T) {
	msg, err := NewNotification("agent_status_changed", map[string]string{"status": "online"})
	if err != nil {
		t.Fatalf("NewNotification: %v", err)
	}

	if msg.IsRequest() {
		t.Error("expected IsRequest to be false")
	}
	if msg.IsResponse() {
		t.Error("expected IsResponse to be false")
	}
	if !msg.IsNotification() {
		t.Error("expected IsNotification to be true")
	}
}

func TestValidate(t *testing.T) {
	request, _ := NewRequest("1", "test", nil)
	notification, _ := NewNotification("test", nil)
	response, _ := NewResponse(json.RawMessage(`"1"`), "ok")
	errResponse := NewErrorResponse(json.RawMessage(`"1"`), InternalError())

	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{"request", request, nil},
		{"notification", notification, nil},
		{"response", response, nil},
		{"error response", errResponse, nil},
		{"wrong version", Message{JSONRPC: "1.0", Method: "test", ID: json.RawMessage(`"1"`)}, ErrInvalidVersion},
		{"request with result", Message{JSONRPC: Version, Method: "test", Result: json.RawMessage(`1`)}, ErrMalformedRequest},
		{"request with error", Message{JSONRPC: Version, Method: "test", Error: InternalError()}, ErrMalformedRequest},
		{"response with neither", Message{JSONRPC: Version, ID: json.RawMessage(`"1"`)}, ErrMalformedResponse},
		{"response with both", Message{JSONRPC: Version, Result: json.RawMessage(`1`), Error: InternalError()}, ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAcceptsExactlyOneShape(t *testing.T) {
	msgs := []Message{
		{JSONRPC: Version, Method: "m", ID: json.RawMessage(`"1"`)},
		{JSONRPC: Version, Method: "m"},
		{JSONRPC: Version, ID: json.RawMessage(`"1"`), Result: json.RawMessage(`{}`)},
	}
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			t.Fatalf("Validate(%+v): %v", m, err)
		}
		shapes := 0
		for _, ok := range []bool{m.IsRequest(), m.IsNotification(), m.IsResponse()} {
			if ok {
				shapes++
			}
		}
		if shapes != 1 {
			t.Errorf("message %+v matches %d shapes, want exactly 1", m, shapes)
		}
	}
}

func TestErrorCodes(t *testing.T) {
	rpcErr := CapabilityNotFound("missing_cap")
	if rpcErr.Code != CodeCapabilityNotFound {
		t.Errorf("code = %d, want %d", rpcErr.Code, CodeCapabilityNotFound)
	}
	if !strings.Contains(rpcErr.Message, "missing_cap") {
		t.Errorf("message %q does not name the capability", rpcErr.Message)
	}

	if got := RateLimitError().Code; got != -32004 {
		t.Errorf("rate limit code = %d, want -32004", got)
	}
	if got := ParseError().Code; got != -32700 {
		t.Errorf("parse error code = %d, want -32700", got)
	}
}

func TestErrorRoundTrip(t *testing.T) {
	msg := NewErrorResponse(json.RawMessage(`"9"`), CapabilityError("boom").WithData(map[string]string{"detail": "x"}))

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Error == nil || decoded.Error.Code != CodeCapabilityError {
		t.Fatalf("decoded error = %+v, want code %d", decoded.Error, CodeCapabilityError)
	}
	if decoded.Error.Error() == "" {
		t.Error("expected non-empty error string")
	}
}

func TestNewRequestIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := NewRequestID()
		if id == "" {
			t.Fatal("empty request id")
		}
		if seen[id] {
			t.Fatalf("duplicate request id %q", id)
		}
		seen[id] = true
	}
}

func TestStringID(t *testing.T) {
	msg, _ := NewRequest("abc", "m", nil)
	id, ok := msg.StringID()
	if !ok || id != "abc" {
		t.Fatalf("StringID = %q, %v; want abc, true", id, ok)
	}

	numeric := Message{JSONRPC: Version, ID: json.RawMessage(`7`), Method: "m"}
	if _, ok := numeric.StringID(); ok {
		t.Error("expected non-string id to report false")
	}
}
