package occupancy_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/dwell/internal/domain/model"
	"github.com/okian/dwell/internal/domain/occupancy"
	. "github.com/smartystreets/goconvey/convey"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func at(sec float64) string {
	return base.Add(time.Duration(sec * float64(time.Second))).Format("2006-01-02T15:04:05.999999Z07:00")
}

func utteranceStarted(sec float64) model.Event {
	return model.Event{
		Name:      "UtteranceUserActionStarted",
		Arguments: map[string]any{"action_started_at": at(sec)},
	}
}

func utteranceFinished(sec float64) model.Event {
	return model.Event{
		Name:      "UtteranceUserActionFinished",
		Arguments: map[string]any{"action_finished_at": at(sec), "final_transcript": "hello"},
	}
}

func transcriptUpdated(sec float64) model.Event {
	return model.Event{
		Name:      "UtteranceUserActionTranscriptUpdated",
		Arguments: map[string]any{"action_updated_at": at(sec)},
	}
}

func attentionStarted(state string, sec float64) model.Event {
	return model.Event{
		Name:      "AttentionUserActionStarted",
		Arguments: map[string]any{"attention_level": state, "action_started_at": at(sec)},
	}
}

func attentionUpdated(state string, sec float64) model.Event {
	return model.Event{
		Name:      "AttentionUserActionUpdated",
		Arguments: map[string]any{"attention_level": state, "action_updated_at": at(sec)},
	}
}

func attentionFinished(sec float64) model.Event {
	return model.Event{
		Name:      "AttentionUserActionFinished",
		Arguments: map[string]any{"action_finished_at": at(sec)},
	}
}

func ingestAll(v *occupancy.View, offsets model.Offsets, events ...model.Event) {
	for _, ev := range events {
		v.Ingest(context.Background(), ev, offsets)
	}
}

func TestIngest(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty view", t, func() {
		v := occupancy.NewView()
		So(v.Condition(), ShouldEqual, occupancy.ConditionEmpty)

		Convey("When events of each role arrive", func() {
			So(v.Ingest(ctx, utteranceStarted(0), nil), ShouldEqual, occupancy.OutcomeWindowStarted)
			So(v.Active(), ShouldBeTrue)
			So(v.Ingest(ctx, attentionStarted("engaged", 0), nil), ShouldEqual, occupancy.OutcomeSample)
			So(v.Ingest(ctx, attentionFinished(1), nil), ShouldEqual, occupancy.OutcomeSample)
			So(v.Ingest(ctx, transcriptUpdated(2), nil), ShouldEqual, occupancy.OutcomeWindowEnd)

			Convey("Then the snapshot should reflect markers and samples", func() {
				snap := v.Snapshot()
				So(snap.Condition, ShouldEqual, occupancy.ConditionClosed)
				So(*snap.Start, ShouldEqual, base)
				So(*snap.End, ShouldEqual, base.Add(2*time.Second))
				So(snap.Samples, ShouldResemble, []model.StateSample{
					{State: "engaged", At: base},
					{State: model.UnknownState, At: base.Add(time.Second)},
				})
				So(v.Active(), ShouldBeFalse)
			})

			Convey("Then a later end marker should overwrite the previous one", func() {
				So(v.Ingest(ctx, utteranceFinished(3), nil), ShouldEqual, occupancy.OutcomeWindowEnd)
				So(*v.Snapshot().End, ShouldEqual, base.Add(3*time.Second))
			})
		})

		Convey("When an unrecognized kind arrives", func() {
			ev := model.Event{
				Name:      "AttentionUserActionPaused",
				Arguments: map[string]any{"attention_level": "engaged", "action_started_at": at(0)},
			}

			Convey("Then it should be ignored", func() {
				So(v.Ingest(ctx, ev, nil), ShouldEqual, occupancy.OutcomeIgnored)
				So(v.Snapshot().Samples, ShouldBeEmpty)
			})
		})

		Convey("When timestamps are missing or unparseable", func() {
			noTS := model.Event{Name: "AttentionUserActionStarted", Arguments: map[string]any{"attention_level": "engaged"}}
			wrongKey := model.Event{
				Name:      "AttentionUserActionUpdated",
				Arguments: map[string]any{"attention_level": "engaged", "action_started_at": at(0)},
			}
			bad := model.Event{
				Name:      "UtteranceUserActionStarted",
				Arguments: map[string]any{"action_started_at": "2024-05-01T10:00:00"},
			}

			Convey("Then the events should be dropped without changing the view", func() {
				So(v.Ingest(ctx, noTS, nil), ShouldEqual, occupancy.OutcomeDropped)
				So(v.Ingest(ctx, wrongKey, nil), ShouldEqual, occupancy.OutcomeDropped)
				So(v.Ingest(ctx, bad, nil), ShouldEqual, occupancy.OutcomeDropped)
				So(v.Condition(), ShouldEqual, occupancy.ConditionEmpty)
				So(v.Snapshot().Samples, ShouldBeEmpty)
			})
		})

		Convey("When a sample carries no state label", func() {
			ev := model.Event{Name: "AttentionUserActionUpdated", Arguments: map[string]any{"action_updated_at": at(0)}}

			Convey("Then it should be dropped", func() {
				So(v.Ingest(ctx, ev, nil), ShouldEqual, occupancy.OutcomeDropped)
				So(v.Snapshot().Samples, ShouldBeEmpty)
			})
		})

		Convey("When only an end marker arrives", func() {
			v.Ingest(ctx, utteranceFinished(1), nil)

			Convey("Then the condition should be flagged and the query should fall back", func() {
				So(v.Condition(), ShouldEqual, occupancy.ConditionEndWithoutStart)
				res := v.Evaluate(ctx, []string{"engaged"})
				So(res.Mode, ShouldEqual, occupancy.ModeLastKnownState)
				So(res.Ratio, ShouldEqual, 1.0)
			})
		})

		Convey("When ingesting with a custom state key", func() {
			custom := occupancy.NewView(occupancy.WithStateKey("level"))
			ev := model.Event{
				Name:      "AttentionUserActionStarted",
				Arguments: map[string]any{"level": "distracted", "action_started_at": at(0)},
			}

			Convey("Then the label should be read from that key", func() {
				So(custom.Ingest(ctx, ev, nil), ShouldEqual, occupancy.OutcomeSample)
				So(custom.Snapshot().Samples[0].State, ShouldEqual, "distracted")
			})
		})

		Convey("When the caller's event is ingested", func() {
			ev := attentionFinished(1)
			v.Ingest(ctx, ev, model.Offsets{"AttentionUserActionFinished": 2})

			Convey("Then the event arguments should be left untouched", func() {
				_, has := ev.Arguments["attention_level"]
				So(has, ShouldBeFalse)
				So(ev.Arguments["action_finished_at"], ShouldEqual, at(1))
				So(v.Snapshot().Samples[0].At, ShouldEqual, base.Add(3*time.Second))
			})
		})
	})
}

func TestScenarios(t *testing.T) {
	ctx := context.Background()

	Convey("Scenario A: engaged for the whole utterance", t, func() {
		v := occupancy.NewView()
		ingestAll(v, nil,
			attentionStarted("engaged", 0),
			utteranceStarted(0),
			utteranceFinished(4),
		)

		So(v.Occupancy(ctx, []string{"engaged"}), ShouldEqual, 1.0)
		So(v.Occupancy(ctx, []string{"disengaged"}), ShouldEqual, 0.0)
	})

	Convey("Scenario B: a change to disengaged three seconds in", t, func() {
		v := occupancy.NewView()
		ingestAll(v, nil,
			utteranceStarted(0),
			attentionStarted("engaged", 0),
			attentionUpdated("disengaged", 3),
			utteranceFinished(4),
		)

		res := v.Evaluate(ctx, []string{"engaged"})
		So(res.Mode, ShouldEqual, occupancy.ModeIntegrated)
		So(res.Ratio, ShouldAlmostEqual, 0.75)
		So(res.Durations, ShouldResemble, map[string]time.Duration{
			"engaged":    3 * time.Second,
			"disengaged": time.Second,
		})
		So(v.Occupancy(ctx, []string{"disengaged"}), ShouldAlmostEqual, 0.25)
		So(v.Occupancy(ctx, []string{"engaged", "disengaged"}), ShouldAlmostEqual, 1.0)
	})

	Convey("Scenario C: a terminal attention event with no window", t, func() {
		v := occupancy.NewView()

		Convey("With an empty view the first requested label decides", func() {
			So(v.Occupancy(ctx, []string{"engaged"}), ShouldEqual, 1.0)
			So(v.Occupancy(ctx, []string{"disengaged", "engaged"}), ShouldEqual, 1.0)
		})

		Convey("After the terminal event the last state is unknown", func() {
			So(v.Ingest(ctx, attentionFinished(2), nil), ShouldEqual, occupancy.OutcomeSample)
			So(v.Condition(), ShouldEqual, occupancy.ConditionEmpty)

			res := v.Evaluate(ctx, []string{"engaged"})
			So(res.Mode, ShouldEqual, occupancy.ModeLastKnownState)
			So(res.Ratio, ShouldEqual, 0.0)
			So(v.Occupancy(ctx, []string{"engaged", model.UnknownState}), ShouldEqual, 1.0)
		})
	})

	Convey("Scenario D: the finish event is corrected by -0.8s", t, func() {
		offsets := model.Offsets{"UtteranceUserActionFinished": -0.8}
		v := occupancy.NewView()
		ingestAll(v, offsets,
			utteranceStarted(0),
			attentionStarted("engaged", 0),
			attentionUpdated("disengaged", 3),
			utteranceFinished(4),
		)

		So(*v.Snapshot().End, ShouldEqual, base.Add(3200*time.Millisecond))
		res := v.Evaluate(ctx, []string{"engaged"})
		So(res.Durations["engaged"], ShouldEqual, 3*time.Second)
		So(res.Durations["disengaged"], ShouldEqual, 200*time.Millisecond)
		So(res.Ratio, ShouldAlmostEqual, 3.0/3.2)

		Convey("A correction that moves the end before a sample excludes it", func() {
			shifted := occupancy.NewView()
			ingestAll(shifted, model.Offsets{"UtteranceUserActionFinished": -1.5},
				utteranceStarted(0),
				attentionStarted("engaged", 0),
				attentionUpdated("disengaged", 3),
				utteranceFinished(4),
			)
			So(shifted.Occupancy(ctx, []string{"engaged"}), ShouldEqual, 1.0)
		})
	})
}

func TestEvaluateEdgeCases(t *testing.T) {
	ctx := context.Background()

	Convey("Given a closed window", t, func() {
		v := occupancy.NewView()

		Convey("When the target set is empty", func() {
			ingestAll(v, nil, utteranceStarted(0), attentionStarted("engaged", 1), utteranceFinished(2))
			res := v.Evaluate(ctx, nil)

			Convey("Then the ratio should be zero", func() {
				So(res.Ratio, ShouldEqual, 0.0)
				So(res.Mode, ShouldEqual, occupancy.ModeEmptyQuery)
				So(v.Occupancy(ctx, []string{}), ShouldEqual, 0.0)
			})
		})

		Convey("When no samples precede the end marker", func() {
			ingestAll(v, nil, utteranceStarted(0), utteranceFinished(4), attentionStarted("disengaged", 4))
			res := v.Evaluate(ctx, []string{"engaged"})

			Convey("Then the window should count as compliant", func() {
				So(res.Mode, ShouldEqual, occupancy.ModeNoSamples)
				So(res.Ratio, ShouldEqual, 1.0)
			})
		})

		Convey("When the only state is unknown", func() {
			ingestAll(v, nil, utteranceStarted(0), attentionFinished(1), utteranceFinished(4))
			res := v.Evaluate(ctx, []string{"engaged"})

			Convey("Then the window should count as compliant", func() {
				So(res.Mode, ShouldEqual, occupancy.ModeUnknownOnly)
				So(res.Ratio, ShouldEqual, 1.0)
			})
		})

		Convey("When every event is coincident", func() {
			ingestAll(v, nil,
				attentionStarted("disengaged", 2),
				utteranceStarted(2),
				attentionUpdated("engaged", 2),
				transcriptUpdated(2),
			)

			Convey("Then none of the samples should precede the end marker", func() {
				res := v.Evaluate(ctx, []string{"engaged"})
				So(res.Mode, ShouldEqual, occupancy.ModeNoSamples)
				So(res.Ratio, ShouldEqual, 1.0)
			})
		})

		Convey("When the per-state durations cancel out", func() {
			ingestAll(v, model.Offsets{"UtteranceUserActionFinished": 1},
				utteranceStarted(1),
				attentionStarted("disengaged", 0),
				attentionUpdated("engaged", 0.5),
				utteranceFinished(0),
			)
			res := v.Evaluate(ctx, []string{"engaged"})

			Convey("Then the zero total should count as compliant", func() {
				So(res.Mode, ShouldEqual, occupancy.ModeZeroDuration)
				So(res.Ratio, ShouldEqual, 1.0)
			})
		})

		Convey("When corrected timestamps run backwards", func() {
			ingestAll(v, nil,
				utteranceStarted(0),
				attentionStarted("engaged", 3),
				attentionUpdated("disengaged", 1),
				utteranceFinished(4),
			)
			res := v.Evaluate(ctx, []string{"engaged"})

			Convey("Then the ratio should be clamped into range", func() {
				// engaged: 0..1 = 1s, disengaged: 1..4 = 3s
				So(res.Ratio, ShouldAlmostEqual, 0.25)

				neg := occupancy.NewView()
				ingestAll(neg, nil,
					utteranceStarted(2),
					attentionStarted("engaged", 0),
					attentionUpdated("disengaged", 1),
					utteranceFinished(4),
				)
				// engaged: 2..1 = -1s, disengaged: 1..4 = 3s, total 2s
				r := neg.Evaluate(ctx, []string{"engaged"})
				So(r.Ratio, ShouldAlmostEqual, 0.5)
				over := neg.Evaluate(ctx, []string{"disengaged"})
				So(over.Ratio, ShouldEqual, 1.0)
			})
		})

		Convey("When a target label is repeated", func() {
			ingestAll(v, nil,
				utteranceStarted(0),
				attentionStarted("engaged", 0),
				attentionUpdated("disengaged", 3),
				utteranceFinished(4),
			)

			Convey("Then it should be counted once", func() {
				So(v.Occupancy(ctx, []string{"engaged", "engaged"}), ShouldAlmostEqual, 0.75)
			})
		})
	})
}

func TestFallback(t *testing.T) {
	ctx := context.Background()

	Convey("Given a window without an end marker", t, func() {
		v := occupancy.NewView()
		v.Ingest(ctx, utteranceStarted(0), nil)

		Convey("Then the latest sample decides the ratio", func() {
			for i, state := range []string{"engaged", "disengaged", "engaged", "unknown"} {
				v.Ingest(ctx, attentionUpdated(state, float64(i)), nil)
				So(v.Occupancy(ctx, []string{state}), ShouldEqual, 1.0)
				So(v.Occupancy(ctx, []string{"other-" + state}), ShouldEqual, 0.0)
				So(v.Evaluate(ctx, []string{state}).Mode, ShouldEqual, occupancy.ModeLastKnownState)
			}
		})
	})
}

func TestReset(t *testing.T) {
	ctx := context.Background()

	Convey("Given a closed window with several samples", t, func() {
		v := occupancy.NewView()
		ingestAll(v, nil,
			utteranceStarted(0),
			attentionStarted("engaged", 0),
			attentionUpdated("disengaged", 1),
			attentionUpdated("distracted", 2),
			utteranceFinished(4),
		)
		So(v.Snapshot().Samples, ShouldHaveLength, 3)

		Convey("When a new start marker arrives", func() {
			v.Ingest(ctx, utteranceStarted(10), nil)

			Convey("Then only the trailing sample should be carried over", func() {
				snap := v.Snapshot()
				So(snap.Condition, ShouldEqual, occupancy.ConditionOpen)
				So(snap.End, ShouldBeNil)
				So(snap.Samples, ShouldResemble, []model.StateSample{
					{State: "distracted", At: base.Add(2 * time.Second)},
				})
			})

			Convey("Then the next window should integrate the carried sample from its start", func() {
				ingestAll(v, nil, attentionUpdated("engaged", 13), utteranceFinished(14))
				res := v.Evaluate(ctx, []string{"distracted"})
				So(res.Durations, ShouldResemble, map[string]time.Duration{
					"distracted": 3 * time.Second,
					"engaged":    time.Second,
				})
				So(res.Ratio, ShouldAlmostEqual, 0.75)
			})
		})
	})
}

func TestBounds(t *testing.T) {
	ctx := context.Background()

	Convey("Given arbitrary event orderings", t, func() {
		states := []string{"engaged", "disengaged", "unknown"}

		Convey("Then every ratio should stay within [0, 1]", func() {
			for seed := 0; seed < 50; seed++ {
				v := occupancy.NewView()
				offsets := model.Offsets{
					"UtteranceUserActionFinished": float64(seed%5) - 2,
					"AttentionUserActionUpdated":  float64(seed%3) - 1,
				}
				v.Ingest(ctx, utteranceStarted(float64(seed%4)), offsets)
				for i := 0; i < 6; i++ {
					sec := float64((seed*7 + i*3) % 11)
					v.Ingest(ctx, attentionUpdated(states[(seed+i)%len(states)], sec), offsets)
				}
				v.Ingest(ctx, utteranceFinished(float64(5+seed%6)), offsets)

				for _, target := range [][]string{{"engaged"}, {"disengaged"}, {"unknown"}, states} {
					r := v.Occupancy(ctx, target)
					So(r, ShouldBeBetweenOrEqual, 0.0, 1.0)
				}
			}
		})
	})
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()

	Convey("Given concurrent ingestion and queries", t, func() {
		v := occupancy.NewView()
		var wg sync.WaitGroup

		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					sec := float64(g*100 + i)
					switch i % 10 {
					case 0:
						v.Ingest(ctx, utteranceStarted(sec), nil)
					case 9:
						v.Ingest(ctx, utteranceFinished(sec), nil)
					default:
						v.Ingest(ctx, attentionUpdated(fmt.Sprintf("s%d", i%3), sec), nil)
					}
					_ = v.Occupancy(ctx, []string{"s1"})
					_ = v.Snapshot()
				}
			}(g)
		}
		wg.Wait()

		Convey("Then the view should remain consistent", func() {
			r := v.Occupancy(ctx, []string{"s0", "s1", "s2"})
			So(r, ShouldBeBetweenOrEqual, 0.0, 1.0)
		})
	})
}
