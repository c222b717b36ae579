// Package occupancy reconstructs the intervals a single attribute spent in each
// state during an observation window and answers what fraction of the window
// was spent in a queried set of states.
package occupancy

import (
	"context"
	"sync"
	"time"

	"github.com/okian/dwell/internal/domain/model"
	"github.com/okian/dwell/internal/domain/timestamp"
	"github.com/okian/dwell/pkg/logger"
	"github.com/okian/dwell/pkg/metrics"
)

// Outcome reports what Ingest did with an event.
type Outcome int

// Ingest outcomes.
const (
	OutcomeIgnored Outcome = iota
	OutcomeDropped
	OutcomeWindowStarted
	OutcomeWindowEnd
	OutcomeSample
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDropped:
		return "dropped"
	case OutcomeWindowStarted:
		return "window_started"
	case OutcomeWindowEnd:
		return "window_end"
	case OutcomeSample:
		return "sample"
	default:
		return "ignored"
	}
}

// Mode names the rule that produced a query result.
type Mode string

// Query modes.
const (
	ModeEmptyQuery     Mode = "empty_query"
	ModeLastKnownState Mode = "last_known_state"
	ModeNoSamples      Mode = "no_samples"
	ModeUnknownOnly    Mode = "unknown_only"
	ModeZeroDuration   Mode = "zero_duration"
	ModeIntegrated     Mode = "integrated"
)

// Condition is the window state at a point in time.
type Condition int

// Window conditions.
const (
	ConditionEmpty Condition = iota
	ConditionOpen
	ConditionClosed
	ConditionEndWithoutStart
)

func (c Condition) String() string {
	switch c {
	case ConditionOpen:
		return "open"
	case ConditionClosed:
		return "closed"
	case ConditionEndWithoutStart:
		return "end_without_start"
	default:
		return "empty"
	}
}

// MarshalText encodes the condition by name.
func (c Condition) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Drop reasons reported to metrics.
const (
	dropMissingTimestamp     = "missing_timestamp"
	dropUnparseableTimestamp = "unparseable_timestamp"
	dropMissingState         = "missing_state"
)

// Result is the outcome of an occupancy query.
type Result struct {
	Ratio float64
	Mode  Mode
	// Durations is the per-state time of the closed window; nil for modes
	// that do not integrate.
	Durations map[string]time.Duration
}

// Snapshot is a point-in-time copy of the window.
type Snapshot struct {
	Condition Condition           `json:"condition"`
	Start     *time.Time          `json:"start,omitempty"`
	End       *time.Time          `json:"end,omitempty"`
	Samples   []model.StateSample `json:"samples"`
}

// View holds the event history of the current observation window.
// All methods are safe for concurrent use.
type View struct {
	mu      sync.Mutex
	samples []model.CorrectedEvent
	start   *model.CorrectedEvent
	end     *model.CorrectedEvent

	stateKey string
	logger   logger.Logger
}

// NewView returns an empty view.
func NewView(opts ...Option) *View {
	v := &View{
		stateKey: model.DefaultStateKey,
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Ingest applies one event to the window. offsets supplies the per-kind
// correction added to the parsed timestamp. Events of unrecognized kinds are
// ignored; events whose timestamp cannot be read are dropped.
func (v *View) Ingest(ctx context.Context, ev model.Event, offsets model.Offsets) Outcome {
	kind := ev.Kind()
	if !kind.Recognized() {
		metrics.RecordEventIgnored()
		return OutcomeIgnored
	}

	key := kind.TimestampKey()
	raw, ok := ev.Argument(key)
	if !ok {
		v.drop(ctx, ev, dropMissingTimestamp, logger.String("argument", key))
		return OutcomeDropped
	}
	at, err := timestamp.Parse(raw)
	if err != nil {
		v.drop(ctx, ev, dropUnparseableTimestamp, logger.Error(err))
		return OutcomeDropped
	}

	ce := model.CorrectedEvent{
		Event:       ev,
		Kind:        kind,
		CorrectedAt: at.Add(offsets.For(ev.Name)),
	}

	switch kind.Role() {
	case model.RoleSample:
		state, ok := ev.Argument(v.stateKey)
		if !ok {
			v.drop(ctx, ev, dropMissingState, logger.String("argument", v.stateKey))
			return OutcomeDropped
		}
		ce.State = state
	case model.RoleTerminal:
		ce.State = model.UnknownState
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	switch kind.Role() {
	case model.RoleWindowStart:
		v.resetLocked()
		v.start = &ce
		metrics.RecordWindowReset()
		metrics.UpdateWindowSamples(len(v.samples))
		return OutcomeWindowStarted
	case model.RoleWindowEnd:
		v.end = &ce
		return OutcomeWindowEnd
	default:
		v.samples = append(v.samples, ce)
		metrics.RecordSampleRecorded()
		metrics.UpdateWindowSamples(len(v.samples))
		return OutcomeSample
	}
}

// resetLocked keeps only the trailing sample and clears both markers.
func (v *View) resetLocked() {
	if n := len(v.samples); n > 1 {
		last := v.samples[n-1]
		v.samples = append(v.samples[:0:0], last)
	}
	v.start = nil
	v.end = nil
}

func (v *View) drop(ctx context.Context, ev model.Event, reason string, fields ...logger.Field) {
	metrics.RecordEventDropped(reason)
	fields = append(fields,
		logger.String("name", ev.Name),
		logger.String("id", ev.ID),
		logger.String("reason", reason),
	)
	v.logger.Warn(ctx, "event dropped", fields...)
}

// Occupancy returns the fraction of the window spent in any of states.
func (v *View) Occupancy(ctx context.Context, states []string) float64 {
	return v.Evaluate(ctx, states).Ratio
}

// Evaluate is Occupancy with the rule that produced the ratio and, for closed
// windows, the per-state durations.
func (v *View) Evaluate(ctx context.Context, states []string) Result {
	began := time.Now()

	v.mu.Lock()
	res := v.evaluateLocked(ctx, states)
	v.mu.Unlock()

	metrics.RecordOccupancyQuery(string(res.Mode), res.Ratio, float64(time.Since(began).Microseconds())/1000)
	return res
}

func (v *View) evaluateLocked(ctx context.Context, states []string) Result {
	if len(states) == 0 {
		return Result{Ratio: 0, Mode: ModeEmptyQuery}
	}
	targets := stateSet(states)

	if v.start == nil || v.end == nil {
		last := states[0]
		if n := len(v.samples); n > 0 {
			last = v.samples[n-1].State
		}
		ratio := 0.0
		if _, ok := targets[last]; ok {
			ratio = 1
		}
		return Result{Ratio: ratio, Mode: ModeLastKnownState}
	}

	filtered := before(v.samples, v.end.CorrectedAt)
	v.logger.Debug(ctx, "evaluating window",
		logger.Strings("history", stateLabels(v.samples)),
		logger.Strings("filtered", stateLabels(filtered)),
		logger.Time("start", v.start.CorrectedAt),
		logger.Time("end", v.end.CorrectedAt),
	)
	if len(filtered) == 0 {
		return Result{Ratio: 1, Mode: ModeNoSamples}
	}

	durations := distribution(transitions(filtered, v.start.CorrectedAt, v.end.CorrectedAt))
	if _, ok := durations[model.UnknownState]; ok && len(durations) == 1 {
		return Result{Ratio: 1, Mode: ModeUnknownOnly, Durations: durations}
	}

	var total, matched time.Duration
	for state, d := range durations {
		total += d
		if _, ok := targets[state]; ok {
			matched += d
		}
	}
	if total == 0 {
		return Result{Ratio: 1, Mode: ModeZeroDuration, Durations: durations}
	}

	ratio := float64(matched) / float64(total)
	if ratio < 0 {
		v.anomaly(ctx, "negative_ratio", ratio, durations)
		ratio = -ratio
	}
	if ratio > 1 {
		v.anomaly(ctx, "ratio_above_one", ratio, durations)
		ratio = 1
	}
	return Result{Ratio: ratio, Mode: ModeIntegrated, Durations: durations}
}

func (v *View) anomaly(ctx context.Context, kind string, ratio float64, durations map[string]time.Duration) {
	metrics.RecordOccupancyAnomaly(kind)
	v.logger.Warn(ctx, "occupancy ratio out of range",
		logger.String("anomaly", kind),
		logger.Float64("ratio", ratio),
		logger.Any("durations", durations),
	)
}

// Condition reports the current window condition.
func (v *View) Condition() Condition {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conditionLocked()
}

func (v *View) conditionLocked() Condition {
	switch {
	case v.start == nil && v.end == nil:
		return ConditionEmpty
	case v.start == nil:
		return ConditionEndWithoutStart
	case v.end == nil:
		return ConditionOpen
	default:
		return ConditionClosed
	}
}

// Active reports whether a window is open and still waiting for its end marker.
func (v *View) Active() bool {
	return v.Condition() == ConditionOpen
}

// Snapshot returns a copy of the window markers and samples.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := Snapshot{
		Condition: v.conditionLocked(),
		Samples:   make([]model.StateSample, len(v.samples)),
	}
	if v.start != nil {
		t := v.start.CorrectedAt
		s.Start = &t
	}
	if v.end != nil {
		t := v.end.CorrectedAt
		s.End = &t
	}
	for i, c := range v.samples {
		s.Samples[i] = c.Sample()
	}
	return s
}
