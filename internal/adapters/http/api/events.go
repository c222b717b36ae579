package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/okian/dwell/internal/domain/model"
)

const maxEventBytes = 1 << 20

// EventDependencies defines the interface for event processing dependencies.
type EventDependencies interface {
	// Enqueue accepts an envelope for asynchronous application.
	Enqueue(ctx context.Context, env model.Envelope) (model.Receipt, error)
	// Ingest accepts an envelope and waits until it has been applied.
	Ingest(ctx context.Context, env model.Envelope) (model.Receipt, error)
}

// EventsHandler handles event requests.
type EventsHandler struct {
	deps EventDependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

type ackResponse struct {
	Status    string `json:"status"`
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

// HandlePostEvent handles POST /events requests. With ?sync=true the response
// is written only after the event has been applied to the window.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var env model.Envelope
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err := dec.Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := env.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	submit := h.deps.Enqueue
	status := http.StatusAccepted
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("sync")); wait {
		submit = h.deps.Ingest
		status = http.StatusOK
	}

	receipt, err := submit(r.Context(), env)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	if receipt.Duplicate {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", ID: receipt.ID, Duplicate: true})
		return
	}
	writeJSON(w, status, ackResponse{Status: "accepted", ID: receipt.ID})
}
