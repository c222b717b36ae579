package api

import (
	"net/http"
)

// WindowHandler exposes the current observation window.
type WindowHandler struct {
	deps WindowDependencies
}

// NewWindowHandler creates a new window handler.
func NewWindowHandler(deps WindowDependencies) *WindowHandler {
	return &WindowHandler{deps: deps}
}

// HandleGetWindow handles GET /window requests.
func (h *WindowHandler) HandleGetWindow(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_window"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	snap, err := h.deps.Window(r.Context())
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
