// Package replay drives a running dwell server through scripted event
// sequences and checks the occupancy it reports.
package replay

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/okian/dwell/internal/domain/model"
)

// Scenario is a named sequence of events interleaved with expectations.
type Scenario struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Base        time.Time `yaml:"base,omitempty"` // zero means the runner picks one
	Steps       []Step    `yaml:"steps"`
}

// Step is either an event to post or an expectation to check.
type Step struct {
	Event   string        `yaml:"event,omitempty"`
	At      float64       `yaml:"at,omitempty"` // seconds after Base
	State   string        `yaml:"state,omitempty"`
	Offsets model.Offsets `yaml:"offsets,omitempty"`

	Expect *Expectation `yaml:"expect,omitempty"`
}

// Expectation is an occupancy query and its expected answer.
type Expectation struct {
	States []string `yaml:"states"`
	Ratio  float64  `yaml:"ratio"`
	Mode   string   `yaml:"mode,omitempty"`
}

// Validate checks that every step is well formed.
func (s Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidScenario)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: %s has no steps", ErrInvalidScenario, s.Name)
	}
	for i, st := range s.Steps {
		switch {
		case st.Event != "" && st.Expect != nil:
			return fmt.Errorf("%w: %s step %d has both event and expect", ErrInvalidScenario, s.Name, i)
		case st.Event == "" && st.Expect == nil:
			return fmt.Errorf("%w: %s step %d has neither event nor expect", ErrInvalidScenario, s.Name, i)
		case st.Event != "" && !model.ParseKind(st.Event).Recognized():
			return fmt.Errorf("%w: %s step %d: unknown event %q", ErrInvalidScenario, s.Name, i, st.Event)
		case st.Expect != nil && (st.Expect.Ratio < 0 || st.Expect.Ratio > 1):
			return fmt.Errorf("%w: %s step %d: ratio out of range", ErrInvalidScenario, s.Name, i)
		}
	}
	return nil
}

// LoadFile reads scenarios from a YAML file holding either a single scenario
// or a list of them.
func LoadFile(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML scenario documents.
func Parse(data []byte) ([]Scenario, error) {
	var list []Scenario
	if err := yaml.Unmarshal(data, &list); err != nil {
		var one Scenario
		if err2 := yaml.Unmarshal(data, &one); err2 != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
		}
		list = []Scenario{one}
	}
	for _, s := range list {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// Builtin returns the bundled scenarios. Each posts its first attention
// sample before the window start so the reset discards earlier history.
func Builtin() []Scenario {
	return []Scenario{
		{
			Name:        "engaged-throughout",
			Description: "engaged for the whole utterance",
			Steps: []Step{
				{Event: "AttentionUserActionStarted", At: 0, State: "engaged"},
				{Event: "UtteranceUserActionStarted", At: 0},
				{Event: "UtteranceUserActionFinished", At: 4},
				{Expect: &Expectation{States: []string{"engaged"}, Ratio: 1, Mode: "integrated"}},
				{Expect: &Expectation{States: []string{"disengaged"}, Ratio: 0, Mode: "integrated"}},
			},
		},
		{
			Name:        "single-change",
			Description: "disengaged three seconds into a four second utterance",
			Steps: []Step{
				{Event: "AttentionUserActionStarted", At: 0, State: "engaged"},
				{Event: "UtteranceUserActionStarted", At: 0},
				{Event: "AttentionUserActionUpdated", At: 3, State: "disengaged"},
				{Expect: &Expectation{States: []string{"disengaged"}, Ratio: 1, Mode: "last_known_state"}},
				{Event: "UtteranceUserActionFinished", At: 4},
				{Expect: &Expectation{States: []string{"engaged"}, Ratio: 0.75, Mode: "integrated"}},
				{Expect: &Expectation{States: []string{"disengaged"}, Ratio: 0.25, Mode: "integrated"}},
			},
		},
		{
			Name:        "corrected-finish",
			Description: "finish event corrected by -0.8s",
			Steps: []Step{
				{Event: "AttentionUserActionStarted", At: 0, State: "engaged"},
				{Event: "UtteranceUserActionStarted", At: 0},
				{Event: "AttentionUserActionUpdated", At: 3, State: "disengaged"},
				{Event: "UtteranceUserActionFinished", At: 4, Offsets: model.Offsets{"UtteranceUserActionFinished": -0.8}},
				{Expect: &Expectation{States: []string{"engaged"}, Ratio: 0.9375, Mode: "integrated"}},
			},
		},
		{
			Name:        "window-reset",
			Description: "a second utterance starts from the last known state",
			Steps: []Step{
				{Event: "AttentionUserActionStarted", At: 0, State: "engaged"},
				{Event: "UtteranceUserActionStarted", At: 0},
				{Event: "AttentionUserActionUpdated", At: 2, State: "distracted"},
				{Event: "UtteranceUserActionFinished", At: 4},
				{Expect: &Expectation{States: []string{"engaged"}, Ratio: 0.5, Mode: "integrated"}},
				{Event: "UtteranceUserActionStarted", At: 10},
				{Expect: &Expectation{States: []string{"distracted"}, Ratio: 1, Mode: "last_known_state"}},
				{Event: "AttentionUserActionUpdated", At: 13, State: "engaged"},
				{Event: "UtteranceUserActionTranscriptUpdated", At: 14},
				{Expect: &Expectation{States: []string{"engaged"}, Ratio: 0.25, Mode: "integrated"}},
			},
		},
	}
}

// Lookup returns the built-in scenario with the given name.
func Lookup(name string) (Scenario, bool) {
	for _, s := range Builtin() {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}
