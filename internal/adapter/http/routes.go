package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the A2A endpoints on the given chi router. wsHandler
// serves the streaming endpoint and may be nil for agents without one.
func MountRoutes(r chi.Router, h *Handlers, wsHandler http.Handler) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/invoke", h.HandleInvoke)
		r.Get("/ping", h.HandlePing)
		r.Get("/capabilities", h.HandleCapabilities)
		r.Get("/card", h.HandleCard)
		if wsHandler != nil {
			r.Handle("/ws", wsHandler)
		}
	})
}
