// Package http exposes this agent's inbound A2A endpoints: capability
// invocation, liveness, and the advertised card.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/loomworks/agentmesh/internal/a2a"
	"github.com/loomworks/agentmesh/internal/port/runtime"
)

// CardSource yields this agent's current card. The coordinator implements it.
type CardSource interface {
	Card() a2a.AgentCard
}

// Handlers serves the inbound A2A endpoints. provider may be nil for agents
// that only consume capabilities; invocations then fail with
// capability-not-found.
type Handlers struct {
	cards    CardSource
	provider runtime.Provider
	log      *slog.Logger
}

// NewHandlers creates the endpoint handlers.
func NewHandlers(cards CardSource, provider runtime.Provider, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{cards: cards, provider: provider, log: log}
}

// HandleInvoke serves POST /v1/invoke. Protocol-level failures are reported
// inside the JSON-RPC envelope with status 200; the transport status only
// reflects transport problems.
func (h *Handlers) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	var env a2a.Message
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeEnvelope(w, h.log, a2a.NewErrorResponse(nil, a2a.ParseError()))
		return
	}
	if err := env.Validate(); err != nil || !env.IsRequest() {
		writeEnvelope(w, h.log, a2a.NewErrorResponse(env.ID, a2a.InvalidRequest()))
		return
	}
	if env.Method != a2a.MethodInvokeCapability {
		writeEnvelope(w, h.log, a2a.NewErrorResponse(env.ID, a2a.MethodNotFound()))
		return
	}

	var invoke a2a.Request
	if err := json.Unmarshal(env.Params, &invoke); err != nil || invoke.CapabilityID == "" {
		writeEnvelope(w, h.log, a2a.NewErrorResponse(env.ID, a2a.InvalidParams()))
		return
	}
	if invoke.Streaming {
		writeEnvelope(w, h.log, a2a.NewErrorResponse(env.ID,
			a2a.CapabilityError("streaming invocations go through the websocket endpoint")))
		return
	}
	if h.provider == nil {
		writeEnvelope(w, h.log, a2a.NewErrorResponse(env.ID, a2a.CapabilityNotFound(invoke.CapabilityID)))
		return
	}

	output, err := h.provider.Execute(r.Context(), invoke.CapabilityID, invoke.Input)
	if err != nil {
		writeEnvelope(w, h.log, a2a.NewErrorResponse(env.ID, execError(invoke.CapabilityID, err)))
		return
	}

	reply, err := a2a.NewResponse(env.ID, a2a.Response{Output: output})
	if err != nil {
		h.log.Error("marshal invoke result", "capability", invoke.CapabilityID, "error", err)
		writeEnvelope(w, h.log, a2a.NewErrorResponse(env.ID, a2a.InternalError()))
		return
	}
	writeEnvelope(w, h.log, reply)
}

// HandlePing serves GET /v1/ping.
func (h *Handlers) HandlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.log, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleCapabilities serves GET /v1/capabilities with the current capability
// list.
func (h *Handlers) HandleCapabilities(w http.ResponseWriter, _ *http.Request) {
	card := h.cards.Card()
	caps := card.Capabilities
	if caps == nil {
		caps = []a2a.Capability{}
	}
	writeJSON(w, h.log, http.StatusOK, caps)
}

// HandleCard serves GET /v1/card with the full agent card.
func (h *Handlers) HandleCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.log, http.StatusOK, h.cards.Card())
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
