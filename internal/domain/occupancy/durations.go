package occupancy

import (
	"time"

	"github.com/okian/dwell/internal/domain/model"
)

// transition marks the instant the attribute entered state.
type transition struct {
	state string
	at    time.Time
}

// transitions builds the ordered change sequence of a closed window. The first
// sample's state is assumed to hold from the window start; the boundary entry
// at end only terminates the last interval.
func transitions(samples []model.CorrectedEvent, start, end time.Time) []transition {
	out := make([]transition, 0, len(samples)+1)
	for i, s := range samples {
		at := s.CorrectedAt
		if i == 0 {
			at = start
		}
		out = append(out, transition{state: s.State, at: at})
	}
	return append(out, transition{state: model.BoundaryState, at: end})
}

// distribution sums, per state, the time until the following transition.
func distribution(ts []transition) map[string]time.Duration {
	d := make(map[string]time.Duration, len(ts))
	for i := 0; i+1 < len(ts); i++ {
		d[ts[i].state] += ts[i+1].at.Sub(ts[i].at)
	}
	return d
}

// before returns the samples strictly earlier than cutoff, in arrival order.
func before(samples []model.CorrectedEvent, cutoff time.Time) []model.CorrectedEvent {
	out := make([]model.CorrectedEvent, 0, len(samples))
	for _, s := range samples {
		if s.CorrectedAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

func stateSet(states []string) map[string]struct{} {
	set := make(map[string]struct{}, len(states))
	for _, s := range states {
		set[s] = struct{}{}
	}
	return set
}

func stateLabels(samples []model.CorrectedEvent) []string {
	out := make([]string, len(samples))
	for i, s := range samples {
		out[i] = s.State
	}
	return out
}
