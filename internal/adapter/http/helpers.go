package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/loomworks/agentmesh/internal/a2a"
)

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("write response", "error", err)
	}
}

// writeEnvelope writes a JSON-RPC envelope with status 200.
func writeEnvelope(w http.ResponseWriter, log *slog.Logger, env a2a.Message) {
	writeJSON(w, log, http.StatusOK, env)
}
