// Package ws serves the inbound streaming endpoint. Each connection carries
// any number of concurrent invocations; responses are correlated to requests
// by envelope id.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/loomworks/agentmesh/internal/a2a"
	"github.com/loomworks/agentmesh/internal/port/runtime"
)

// Handler upgrades /v1/ws requests and executes streamed invocations against
// the runtime provider.
type Handler struct {
	provider runtime.Provider
	log      *slog.Logger
}

// NewHandler creates the streaming endpoint handler.
func NewHandler(provider runtime.Provider, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{provider: provider, log: log}
}

// peerConn serializes writes from concurrent invocation goroutines.
type peerConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (p *peerConn) send(ctx context.Context, env a2a.Message) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ws.Write(ctx, websocket.MessageText, data)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("websocket accept failed", "error", err)
		return
	}
	conn := &peerConn{ws: ws}
	defer ws.CloseNow()

	ctx := r.Context()
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.log.Debug("websocket read ended", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var env a2a.Message
		if err := json.Unmarshal(data, &env); err != nil {
			_ = conn.send(ctx, a2a.NewErrorResponse(nil, a2a.ParseError()))
			continue
		}
		if err := env.Validate(); err != nil || !env.IsRequest() {
			_ = conn.send(ctx, a2a.NewErrorResponse(env.ID, a2a.InvalidRequest()))
			continue
		}
		if env.Method != a2a.MethodInvokeCapability {
			_ = conn.send(ctx, a2a.NewErrorResponse(env.ID, a2a.MethodNotFound()))
			continue
		}

		wg.Add(1)
		go func(env a2a.Message) {
			defer wg.Done()
			h.handleInvoke(ctx, conn, env)
		}(env)
	}
}

// handleInvoke runs one invocation and writes its frames. Streaming
// invocations emit a partial frame per chunk and a bare final frame;
// everything else answers with a single final frame.
func (h *Handler) handleInvoke(ctx context.Context, conn *peerConn, env a2a.Message) {
	var invoke a2a.Request
	if err := json.Unmarshal(env.Params, &invoke); err != nil || invoke.CapabilityID == "" {
		_ = conn.send(ctx, a2a.NewErrorResponse(env.ID, a2a.InvalidParams()))
		return
	}
	if h.provider == nil {
		_ = conn.send(ctx, a2a.NewErrorResponse(env.ID, a2a.CapabilityNotFound(invoke.CapabilityID)))
		return
	}

	streamer, canStream := h.provider.(runtime.StreamingProvider)
	if invoke.Streaming && canStream {
		h.streamInvoke(ctx, conn, env.ID, streamer, invoke)
		return
	}

	output, err := h.provider.Execute(ctx, invoke.CapabilityID, invoke.Input)
	if err != nil {
		_ = conn.send(ctx, a2a.NewErrorResponse(env.ID, execError(invoke.CapabilityID, err)))
		return
	}
	h.reply(ctx, conn, env.ID, a2a.Response{Output: output})
}

func (h *Handler) streamInvoke(ctx context.Context, conn *peerConn, id json.RawMessage, streamer runtime.StreamingProvider, invoke a2a.Request) {
	chunks, err := streamer.ExecuteStream(ctx, invoke.CapabilityID, invoke.Input)
	if err != nil {
		_ = conn.send(ctx, a2a.NewErrorResponse(id, execError(invoke.CapabilityID, err)))
		return
	}

	for chunk := range chunks {
		h.reply(ctx, conn, id, a2a.Response{Output: chunk, Partial: true})
	}
	h.reply(ctx, conn, id, a2a.Response{})
}

func (h *Handler) reply(ctx context.Context, conn *peerConn, id json.RawMessage, resp a2a.Response) {
	env, err := a2a.NewResponse(id, resp)
	if err != nil {
		h.log.Error("marshal stream frame", "error", err)
		return
	}
	if err := conn.send(ctx, env); err != nil {
		h.log.Debug("stream frame write failed", "error", err)
	}
}

// execError maps a provider failure onto the wire error taxonomy.
func execError(capabilityID string, err error) *a2a.Error {
	var rpcErr *a2a.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if errors.Is(err, runtime.ErrUnknownCapability) {
		return a2a.CapabilityNotFound(capabilityID)
	}
	return a2a.CapabilityError(err.Error())
}
