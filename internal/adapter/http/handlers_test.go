package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/loomworks/agentmesh/internal/a2a"
	"github.com/loomworks/agentmesh/internal/port/runtime"
)

type staticCard struct{ card a2a.AgentCard }

func (s staticCard) Card() a2a.AgentCard { return s.card }

type echoProvider struct{}

func (echoProvider) Capabilities() []a2a.Capability {
	return []a2a.Capability{{ID: "echo", Name: "Echo"}}
}

func (echoProvider) Execute(_ context.Context, capabilityID string, input json.RawMessage) (json.RawMessage, error) {
	switch capabilityID {
	case "echo":
		return input, nil
	case "boom":
		return nil, fmt.Errorf("deliberate failure")
	default:
		return nil, runtime.ErrUnknownCapability
	}
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	card := a2a.NewAgentCard("self", "Self", "1.0.0", "http://self.local")
	card.Capabilities = echoProvider{}.Capabilities()

	r := chi.NewRouter()
	MountRoutes(r, NewHandlers(staticCard{card}, echoProvider{}, nil), nil)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postInvoke(t *testing.T, url string, body []byte) a2a.Message {
	t.Helper()
	resp, err := http.Post(url+"/v1/invoke", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/invoke: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var env a2a.Message
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("invalid response envelope: %v", err)
	}
	return env
}

func invokeBody(t *testing.T, capabilityID string, input json.RawMessage) []byte {
	t.Helper()
	env, err := a2a.NewRequest("req-1", a2a.MethodInvokeCapability, a2a.Request{
		CapabilityID: capabilityID,
		Input:        input,
	})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	body, _ := json.Marshal(env)
	return body
}

func TestInvokeSuccess(t *testing.T) {
	srv := testServer(t)

	env := postInvoke(t, srv.URL, invokeBody(t, "echo", json.RawMessage(`{"x":1}`)))
	if env.Error != nil {
		t.Fatalf("error = %v", env.Error)
	}
	id, _ := env.StringID()
	if id != "req-1" {
		t.Fatalf("id = %q", id)
	}

	var resp a2a.Response
	if err := json.Unmarshal(env.Result, &resp); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if string(resp.Output) != `{"x":1}` {
		t.Fatalf("output = %s", resp.Output)
	}
}

func TestInvokeErrorTaxonomy(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		name     string
		body     []byte
		wantCode int
	}{
		{"malformed json", []byte(`{not json`), a2a.CodeParseError},
		{"wrong version", []byte(`{"jsonrpc":"1.0","id":"1","method":"invoke_capability"}`), a2a.CodeInvalidRequest},
		{"notification shape", []byte(`{"jsonrpc":"2.0","method":"invoke_capability","params":{"capability_id":"echo"}}`), a2a.CodeInvalidRequest},
		{"unknown method", []byte(`{"jsonrpc":"2.0","id":"1","method":"do_stuff"}`), a2a.CodeMethodNotFound},
		{"missing capability id", []byte(`{"jsonrpc":"2.0","id":"1","method":"invoke_capability","params":{}}`), a2a.CodeInvalidParams},
		{"unknown capability", invokeBody(t, "nope", nil), a2a.CodeCapabilityNotFound},
		{"capability failure", invokeBody(t, "boom", nil), a2a.CodeCapabilityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := postInvoke(t, srv.URL, tt.body)
			if env.Error == nil {
				t.Fatal("no error in envelope")
			}
			if env.Error.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", env.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestInvokeStreamingRejectedOverHTTP(t *testing.T) {
	srv := testServer(t)

	env, err := a2a.NewRequest("req-1", a2a.MethodInvokeCapability, a2a.Request{
		CapabilityID: "echo",
		Streaming:    true,
	})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	body, _ := json.Marshal(env)

	reply := postInvoke(t, srv.URL, body)
	if reply.Error == nil || reply.Error.Code != a2a.CodeCapabilityError {
		t.Fatalf("error = %v, want capability error", reply.Error)
	}
}

func TestPing(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/v1/ping")
	if err != nil {
		t.Fatalf("GET /v1/ping: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestCapabilitiesAndCard(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/v1/capabilities")
	if err != nil {
		t.Fatalf("GET /v1/capabilities: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var caps []a2a.Capability
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		t.Fatalf("decode capabilities: %v", err)
	}
	if len(caps) != 1 || caps[0].ID != "echo" {
		t.Fatalf("caps = %v", caps)
	}

	cardResp, err := http.Get(srv.URL + "/v1/card")
	if err != nil {
		t.Fatalf("GET /v1/card: %v", err)
	}
	defer func() { _ = cardResp.Body.Close() }()

	var card a2a.AgentCard
	if err := json.NewDecoder(cardResp.Body).Decode(&card); err != nil {
		t.Fatalf("decode card: %v", err)
	}
	if card.ID != "self" || !card.HasCapability("echo") {
		t.Fatalf("card = %+v", card)
	}
}
