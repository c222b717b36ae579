package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/dwell/internal/domain/model"
	"github.com/okian/dwell/pkg/logger"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultTolerance = 1e-6
	// scenarioSpacing separates the timelines of consecutive scenarios.
	scenarioSpacing = time.Hour
)

var defaultBase = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// Runner posts scenario events to a dwell server and verifies its answers.
type Runner struct {
	baseURL   string
	client    *http.Client
	tolerance float64
	base      time.Time
	stateKey  string
	runID     string
	logger    logger.Logger
}

// Check is the outcome of one expectation.
type Check struct {
	Step     int         `json:"step"`
	Expected Expectation `json:"expected"`
	Ratio    float64     `json:"ratio"`
	Mode     string      `json:"mode"`
	Passed   bool        `json:"passed"`
}

// Report summarizes one scenario run.
type Report struct {
	Scenario string        `json:"scenario"`
	Events   int           `json:"events"`
	Checks   []Check       `json:"checks"`
	Duration time.Duration `json:"duration"`
}

// Failed returns the checks that did not pass.
func (r Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// NewRunner returns a runner for the server at baseURL.
func NewRunner(baseURL string, opts ...Option) *Runner {
	r := &Runner{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: defaultTimeout},
		tolerance: defaultTolerance,
		base:      defaultBase,
		stateKey:  model.DefaultStateKey,
		runID:     uuid.NewString(),
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunAll runs scenarios in order, each on its own timeline. It stops at the
// first transport error; mismatches are collected and reported together.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario) ([]Report, error) {
	reports := make([]Report, 0, len(scenarios))
	var mismatched []string
	for i, sc := range scenarios {
		if sc.Base.IsZero() {
			sc.Base = r.base.Add(time.Duration(i) * scenarioSpacing)
		}
		rep, err := r.Run(ctx, sc)
		reports = append(reports, rep)
		switch {
		case errors.Is(err, ErrMismatch):
			mismatched = append(mismatched, sc.Name)
		case err != nil:
			return reports, err
		}
	}
	if len(mismatched) > 0 {
		return reports, fmt.Errorf("%w: %s", ErrMismatch, strings.Join(mismatched, ", "))
	}
	return reports, nil
}

// Run posts the events of sc synchronously and evaluates its expectations as
// they occur.
func (r *Runner) Run(ctx context.Context, sc Scenario) (Report, error) {
	if err := sc.Validate(); err != nil {
		return Report{Scenario: sc.Name}, err
	}
	if sc.Base.IsZero() {
		sc.Base = r.base
	}

	began := time.Now()
	rep := Report{Scenario: sc.Name}
	r.logger.Info(ctx, "running scenario", logger.String("scenario", sc.Name), logger.Int("steps", len(sc.Steps)))

	for i, st := range sc.Steps {
		if st.Expect == nil {
			if err := r.post(ctx, r.envelope(sc, i, st)); err != nil {
				return rep, fmt.Errorf("%s step %d: %w", sc.Name, i, err)
			}
			rep.Events++
			continue
		}

		got, err := r.query(ctx, st.Expect.States)
		if err != nil {
			return rep, fmt.Errorf("%s step %d: %w", sc.Name, i, err)
		}
		c := Check{Step: i, Expected: *st.Expect, Ratio: got.Ratio, Mode: got.Mode}
		c.Passed = math.Abs(got.Ratio-st.Expect.Ratio) <= r.tolerance &&
			(st.Expect.Mode == "" || st.Expect.Mode == got.Mode)
		rep.Checks = append(rep.Checks, c)

		if !c.Passed {
			r.logger.Warn(ctx, "expectation failed",
				logger.String("scenario", sc.Name),
				logger.Int("step", i),
				logger.Strings("states", st.Expect.States),
				logger.Float64("expected", st.Expect.Ratio),
				logger.Float64("ratio", got.Ratio),
				logger.String("mode", got.Mode),
			)
		}
	}

	rep.Duration = time.Since(began)
	if failed := rep.Failed(); len(failed) > 0 {
		return rep, fmt.Errorf("%w: %s: %d of %d checks failed", ErrMismatch, sc.Name, len(failed), len(rep.Checks))
	}
	r.logger.Info(ctx, "scenario passed", logger.String("scenario", sc.Name), logger.Int("checks", len(rep.Checks)))
	return rep, nil
}

func (r *Runner) envelope(sc Scenario, i int, st Step) model.Envelope {
	kind := model.ParseKind(st.Event)
	args := map[string]any{
		kind.TimestampKey(): encodeTimestamp(offsetTime(sc.Base, st.At), i),
	}
	if st.State != "" {
		args[r.stateKey] = st.State
	}
	return model.Envelope{
		Event: model.Event{
			ID:        fmt.Sprintf("%s/%s/%d", r.runID, sc.Name, i),
			Name:      st.Event,
			Arguments: args,
		},
		TimestampOffsets: st.Offsets,
	}
}

func (r *Runner) post(ctx context.Context, env model.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/events?sync=true", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: POST /events %d: %s", ErrUnexpectedReply, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type occupancyReply struct {
	Ratio float64 `json:"ratio"`
	Mode  string  `json:"mode"`
}

func (r *Runner) query(ctx context.Context, states []string) (occupancyReply, error) {
	q := url.Values{"states": {strings.Join(states, ",")}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/occupancy?"+q.Encode(), nil)
	if err != nil {
		return occupancyReply{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return occupancyReply{}, fmt.Errorf("query occupancy: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return occupancyReply{}, fmt.Errorf("%w: GET /occupancy %d", ErrUnexpectedReply, resp.StatusCode)
	}
	var out occupancyReply
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return occupancyReply{}, fmt.Errorf("%w: %w", ErrUnexpectedReply, err)
	}
	return out, nil
}
