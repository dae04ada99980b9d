package comms

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/loomworks/agentmesh/internal/a2a"
)

// streamServer accepts WebSocket connections on /v1/ws and answers each
// invoke request with `partials` partial frames followed by one final frame.
func streamServer(t *testing.T, partials int, accepted *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		if accepted != nil {
			accepted.Add(1)
		}
		defer conn.CloseNow()

		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var env a2a.Message
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			for range partials {
				out, _ := a2a.NewResponse(env.ID, a2a.Response{
					Output:  json.RawMessage(`"chunk"`),
					Partial: true,
				})
				frame, _ := json.Marshal(out)
				if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
					return
				}
			}
			out, _ := a2a.NewResponse(env.ID, a2a.Response{Output: json.RawMessage(`"final"`)})
			frame, _ := json.Marshal(out)
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamingSession(t *testing.T) {
	srv := streamServer(t, 2, nil)
	m := NewManager(Config{}, nil, nil, nil)
	t.Cleanup(m.CloseAll)

	sess, err := m.SendStreamingRequest(context.Background(), targetFor(t, srv), a2a.Request{CapabilityID: "gen"})
	if err != nil {
		t.Fatalf("SendStreamingRequest: %v", err)
	}
	defer func() { _ = sess.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := range 2 {
		resp, err := sess.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv partial %d: %v", i, err)
		}
		if !resp.Partial || string(resp.Output) != `"chunk"` {
			t.Fatalf("partial %d = %+v", i, resp)
		}
	}

	final, err := sess.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv final: %v", err)
	}
	if final.Partial || string(final.Output) != `"final"` {
		t.Fatalf("final = %+v", final)
	}
}

func TestStreamingReusesConnection(t *testing.T) {
	var accepted atomic.Int32
	srv := streamServer(t, 0, &accepted)
	m := NewManager(Config{}, nil, nil, nil)
	t.Cleanup(m.CloseAll)

	target := targetFor(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := m.SendStreamingRequest(ctx, target, a2a.Request{CapabilityID: "gen"})
	if err != nil {
		t.Fatalf("first session: %v", err)
	}
	second, err := m.SendStreamingRequest(ctx, target, a2a.Request{CapabilityID: "gen"})
	if err != nil {
		t.Fatalf("second session: %v", err)
	}

	// both sessions receive their own final frame over the shared connection
	for name, sess := range map[string]*StreamSession{"first": first, "second": second} {
		resp, err := sess.Recv(ctx)
		if err != nil {
			t.Fatalf("%s Recv: %v", name, err)
		}
		if string(resp.Output) != `"final"` {
			t.Fatalf("%s output = %s", name, resp.Output)
		}
		_ = sess.Close()
	}

	if got := accepted.Load(); got != 1 {
		t.Fatalf("server accepted %d connections, want 1", got)
	}
}

func TestStreamingEOFOnClose(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		// read the request, then close without answering
		_, _, _ = conn.Read(r.Context())
		_ = conn.Close(websocket.StatusNormalClosure, "")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	m := NewManager(Config{}, nil, nil, nil)
	t.Cleanup(m.CloseAll)

	sess, err := m.SendStreamingRequest(context.Background(), targetFor(t, srv), a2a.Request{CapabilityID: "gen"})
	if err != nil {
		t.Fatalf("SendStreamingRequest: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := sess.Recv(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("Recv after close: got %v, want io.EOF", err)
	}
}

func TestStreamingConnectionLimit(t *testing.T) {
	srv := streamServer(t, 0, nil)
	m := NewManager(Config{MaxConnections: 1}, nil, nil, nil)
	t.Cleanup(m.CloseAll)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := targetFor(t, srv)
	if _, err := m.SendStreamingRequest(ctx, first, a2a.Request{CapabilityID: "gen"}); err != nil {
		t.Fatalf("first agent: %v", err)
	}

	other := targetFor(t, srv)
	other.ID = "other"
	if _, err := m.SendStreamingRequest(ctx, other, a2a.Request{CapabilityID: "gen"}); !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("second agent: got %v, want ErrTooManyConnections", err)
	}
}

func TestCloseConnectionEndsSessions(t *testing.T) {
	srv := streamServer(t, 0, nil)
	m := NewManager(Config{}, nil, nil, nil)

	target := targetFor(t, srv)
	sess, err := m.SendStreamingRequest(context.Background(), target, a2a.Request{CapabilityID: "gen"})
	if err != nil {
		t.Fatalf("SendStreamingRequest: %v", err)
	}

	// drain the final frame so only the close remains
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := sess.Recv(ctx); err != nil {
		t.Fatalf("Recv: %v", err)
	}

	m.CloseConnection(target.ID)

	if _, err := sess.Recv(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("Recv after CloseConnection: got %v, want io.EOF", err)
	}
}
