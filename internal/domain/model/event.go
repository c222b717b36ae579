// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"math"
	"strings"
	"time"
)

// Sentinel states used by the occupancy view.
const (
	// UnknownState is reported when the tracked attribute stops producing readings.
	UnknownState = "unknown"
	// BoundaryState terminates the last interval of a window; it never accrues time.
	BoundaryState = "no_state"
)

// DefaultStateKey is the argument key carrying the state label of sample events.
const DefaultStateKey = "attention_level"

// Event is a single action event delivered by the orchestration runtime.
// The aggregator never mutates an Event or its Arguments.
type Event struct {
	ID            string         `json:"id,omitempty"`             // delivery id used for idempotency
	Name          string         `json:"name"`                     // kind tag, e.g. "AttentionUserActionStarted"
	Arguments     map[string]any `json:"arguments,omitempty"`      // action arguments, including the kind's timestamp field
	Timestamp     string         `json:"timestamp,omitempty"`      // envelope emission time, informational only
	CorrelationID string         `json:"correlation_id,omitempty"` // action_uid shared by the events of one action
}

// Kind classifies the event name.
func (e Event) Kind() Kind {
	return ParseKind(e.Name)
}

// Argument returns the named argument as a string.
func (e Event) Argument(key string) (string, bool) {
	v, ok := e.Arguments[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// CorrectedEvent is an Event annotated with its latency-corrected time.
type CorrectedEvent struct {
	Event
	Kind        Kind
	State       string    // state label reported by sample kinds; empty for markers
	CorrectedAt time.Time // parsed kind timestamp plus the configured offset
}

// Sample returns the externally visible view of a sample event.
func (c CorrectedEvent) Sample() StateSample {
	return StateSample{State: c.State, At: c.CorrectedAt}
}

// StateSample is a single observed state value with its corrected timestamp.
type StateSample struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
}

// Offsets maps event kind names to a signed latency correction in seconds.
type Offsets map[string]float64

// For returns the correction for the given kind name; absent kinds yield zero.
func (o Offsets) For(name string) time.Duration {
	sec, ok := o[name]
	if !ok || math.IsNaN(sec) || math.IsInf(sec, 0) {
		return 0
	}
	return time.Duration(math.Round(sec * float64(time.Second)))
}

// Envelope is the wire shape accepted over HTTP and Kafka.
type Envelope struct {
	Event
	// TimestampOffsets overrides the configured offsets for this event only.
	TimestampOffsets Offsets `json:"timestamp_offsets,omitempty"`
}

// ErrInvalidEnvelope is returned by Validate.
var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Validate checks the fields every envelope must carry. The kind-specific
// timestamp is not checked; the view drops events it cannot read.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.Join(ErrInvalidEnvelope, errors.New("missing name"))
	}
	return nil
}

// Receipt acknowledges an accepted envelope.
type Receipt struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

// Merge returns o overlaid with override; neither input is modified.
func (o Offsets) Merge(override Offsets) Offsets {
	if len(override) == 0 {
		return o
	}
	out := make(Offsets, len(o)+len(override))
	for k, v := range o {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
