package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/loomworks/agentmesh/internal/a2a"
	"github.com/loomworks/agentmesh/internal/port/runtime"
)

type countProvider struct{}

func (countProvider) Capabilities() []a2a.Capability {
	return []a2a.Capability{{ID: "count", SupportsStreaming: true}}
}

func (countProvider) Execute(_ context.Context, capabilityID string, input json.RawMessage) (json.RawMessage, error) {
	if capabilityID != "count" {
		return nil, runtime.ErrUnknownCapability
	}
	return input, nil
}

func (countProvider) ExecuteStream(_ context.Context, capabilityID string, _ json.RawMessage) (<-chan json.RawMessage, error) {
	if capabilityID != "count" {
		return nil, runtime.ErrUnknownCapability
	}
	ch := make(chan json.RawMessage, 3)
	for i := 1; i <= 3; i++ {
		ch <- json.RawMessage(fmt.Sprintf("%d", i))
	}
	close(ch)
	return ch, nil
}

func dialHandler(t *testing.T) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(NewHandler(countProvider{}, nil))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func sendRequest(t *testing.T, conn *websocket.Conn, id string, invoke a2a.Request) {
	t.Helper()
	env, err := a2a.NewRequest(id, a2a.MethodInvokeCapability, invoke)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	data, _ := json.Marshal(env)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) a2a.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env a2a.Message
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return env
}

func readResponse(t *testing.T, conn *websocket.Conn, wantID string) a2a.Response {
	t.Helper()
	env := readEnvelope(t, conn)
	if id, _ := env.StringID(); id != wantID {
		t.Fatalf("frame id = %q, want %q", id, wantID)
	}
	if env.Error != nil {
		t.Fatalf("frame error = %v", env.Error)
	}
	var resp a2a.Response
	if err := json.Unmarshal(env.Result, &resp); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return resp
}

func TestStreamingInvocation(t *testing.T) {
	conn := dialHandler(t)
	sendRequest(t, conn, "s-1", a2a.Request{CapabilityID: "count", Streaming: true})

	for i := 1; i <= 3; i++ {
		resp := readResponse(t, conn, "s-1")
		if !resp.Partial {
			t.Fatalf("frame %d not partial", i)
		}
		if string(resp.Output) != fmt.Sprintf("%d", i) {
			t.Fatalf("frame %d output = %s", i, resp.Output)
		}
	}

	final := readResponse(t, conn, "s-1")
	if final.Partial {
		t.Fatal("final frame marked partial")
	}
}

func TestNonStreamingInvocationOverSocket(t *testing.T) {
	conn := dialHandler(t)
	sendRequest(t, conn, "r-1", a2a.Request{CapabilityID: "count", Input: json.RawMessage(`"x"`)})

	resp := readResponse(t, conn, "r-1")
	if resp.Partial || string(resp.Output) != `"x"` {
		t.Fatalf("response = %+v", resp)
	}
}

func TestUnknownCapabilityOverSocket(t *testing.T) {
	conn := dialHandler(t)
	sendRequest(t, conn, "r-2", a2a.Request{CapabilityID: "nope", Streaming: true})

	env := readEnvelope(t, conn)
	if env.Error == nil || env.Error.Code != a2a.CodeCapabilityNotFound {
		t.Fatalf("error = %v, want capability-not-found", env.Error)
	}
}

func TestInvalidFrameAnswered(t *testing.T) {
	conn := dialHandler(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{broken`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	env := readEnvelope(t, conn)
	if env.Error == nil || env.Error.Code != a2a.CodeParseError {
		t.Fatalf("error = %v, want parse error", env.Error)
	}
}
