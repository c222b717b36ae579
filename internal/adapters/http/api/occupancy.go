package api

import (
	"net/http"
	"strings"

	"github.com/okian/dwell/internal/domain/occupancy"
)

// OccupancyHandler handles occupancy queries.
type OccupancyHandler struct {
	deps OccupancyDependencies
}

// NewOccupancyHandler creates a new occupancy handler.
func NewOccupancyHandler(deps OccupancyDependencies) *OccupancyHandler {
	return &OccupancyHandler{deps: deps}
}

type occupancyResponse struct {
	Ratio     float64            `json:"ratio"`
	Mode      occupancy.Mode     `json:"mode"`
	States    []string           `json:"states"`
	Durations map[string]float64 `json:"durations,omitempty"` // seconds per state
}

// HandleGetOccupancy handles GET /occupancy?states=a,b requests. Without a
// states parameter the configured default states are queried; an empty
// parameter is an empty query.
func (h *OccupancyHandler) HandleGetOccupancy(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_occupancy"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	states := parseStates(r.URL.Query()["states"])
	if states == nil {
		states = h.deps.DefaultStates()
	}
	res, err := h.deps.Evaluate(r.Context(), states)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}

	resp := occupancyResponse{Ratio: res.Ratio, Mode: res.Mode, States: states}
	if len(res.Durations) > 0 {
		resp.Durations = make(map[string]float64, len(res.Durations))
		for state, d := range res.Durations {
			resp.Durations[state] = d.Seconds()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseStates flattens repeated and comma separated values. It returns nil
// when the parameter is absent and an empty slice when it carries no labels.
func parseStates(values []string) []string {
	if values == nil {
		return nil
	}
	states := []string{}
	seen := make(map[string]struct{})
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			states = append(states, s)
		}
	}
	return states
}
