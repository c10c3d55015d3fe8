package scoring

import (
	"testing"

	"github.com/lucidrelay/interpassign/drhistory"
	"github.com/lucidrelay/interpassign/policy"
)

func TestUrgency(t *testing.T) {
	cases := []struct {
		name                 string
		daysUntilStart       float64
		urgentThresholdDays  int
		generalThresholdDays int
		want                 float64
	}{
		{"within urgent window", 0.5, 1, 5, 1},
		{"at urgent threshold", 1, 1, 5, 1},
		{"past general threshold", 10, 1, 5, 0},
		{"midway", 3, 1, 5, 0.5},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Urgency(c.daysUntilStart, c.urgentThresholdDays, c.generalThresholdDays)
			if got != c.want {
				t.Errorf("Urgency(%v, %d, %d) = %v, want %v", c.daysUntilStart, c.urgentThresholdDays, c.generalThresholdDays, got, c.want)
			}
		})
	}
}

func TestLrsNeverAssigned(t *testing.T) {
	if got := Lrs(0, true, 14); got != 1 {
		t.Errorf("never-assigned candidate should score 1, got %v", got)
	}
}

func TestLrsClampsToWindow(t *testing.T) {
	got := Lrs(100, false, 14)
	if got != 1 {
		t.Errorf("DaysSinceLast beyond the window should clamp to window/window=1, got %v", got)
	}
}

func TestRankOrdersEligibleBeforeIneligible(t *testing.T) {
	candidates := []Candidate{
		{InterpreterID: "a", CurrentHours: 0, DaysSinceLast: 10, NeverAssigned: false, DurationHours: 1},
		{InterpreterID: "b", CurrentHours: 0, DaysSinceLast: 10, NeverAssigned: false, DurationHours: 100},
	}
	hours := map[string]float64{"a": 0, "b": 0}
	weights := policy.Weights{Fair: 1, Urgency: 1, Lrs: 1}

	breakdown := Rank(candidates, hours, 0.5, weights, 8, 14, 1)
	if len(breakdown) != 2 {
		t.Fatalf("expected 2 breakdowns, got %d", len(breakdown))
	}
	if !breakdown[0].Eligible {
		t.Errorf("expected the first result to be eligible, got %+v", breakdown[0])
	}
	if breakdown[len(breakdown)-1].Eligible {
		t.Error("candidate whose duration would blow the fairness gap must sort after eligible candidates")
	}
}

func TestRankAppliesDRBlock(t *testing.T) {
	candidates := []Candidate{
		{InterpreterID: "a", DurationHours: 1, IsDR: true, DR: drhistory.Outcome{Blocked: true, Reason: "consecutive"}},
		{InterpreterID: "b", DurationHours: 1},
	}
	hours := map[string]float64{"a": 0, "b": 0}
	weights := policy.Weights{Fair: 1, Urgency: 1, Lrs: 1}

	breakdown := Rank(candidates, hours, 0, weights, 8, 14, 1)
	if breakdown[0].InterpreterID != "b" {
		t.Errorf("blocked DR candidate must not win, got winner %s", breakdown[0].InterpreterID)
	}
	for _, b := range breakdown {
		if b.InterpreterID == "a" && b.Eligible {
			t.Error("blocked DR candidate must be marked ineligible")
		}
	}
}

func TestRankAppliesDRPenalty(t *testing.T) {
	candidates := []Candidate{
		{InterpreterID: "a", DurationHours: 1, IsDR: true, DR: drhistory.Outcome{PenaltyApplied: true, PenaltyAmount: -5}},
		{InterpreterID: "b", DurationHours: 1},
	}
	hours := map[string]float64{"a": 0, "b": 0}
	weights := policy.Weights{Fair: 1, Urgency: 1, Lrs: 1}

	breakdown := Rank(candidates, hours, 0, weights, 8, 14, 1)
	if breakdown[0].InterpreterID != "b" {
		t.Errorf("heavily penalised DR candidate should lose the top spot, got %s", breakdown[0].InterpreterID)
	}
}

func TestRankIsDeterministicAcrossRuns(t *testing.T) {
	candidates := []Candidate{
		{InterpreterID: "x", CurrentHours: 2, DaysSinceLast: 5, DurationHours: 1},
		{InterpreterID: "y", CurrentHours: 2, DaysSinceLast: 5, DurationHours: 1},
	}
	hours := map[string]float64{"x": 2, "y": 2}
	weights := policy.Weights{Fair: 1, Urgency: 1, Lrs: 1}

	first := Rank(candidates, hours, 0.3, weights, 8, 14, 1)
	second := Rank(candidates, hours, 0.3, weights, 8, 14, 1)
	if first[0].InterpreterID != second[0].InterpreterID {
		t.Errorf("identical inputs must rank identically across calls: %s vs %s", first[0].InterpreterID, second[0].InterpreterID)
	}
}

func TestRankDampensNewcomerScore(t *testing.T) {
	candidates := []Candidate{
		{InterpreterID: "newcomer", CurrentHours: 0, DaysSinceLast: 10, DurationHours: 1, IsNewcomer: true},
		{InterpreterID: "veteran", CurrentHours: 0, DaysSinceLast: 10, DurationHours: 1},
	}
	hours := map[string]float64{"newcomer": 0, "veteran": 0}
	weights := policy.Weights{Fair: 1, Urgency: 0, Lrs: 0}

	undamped := Rank(candidates, hours, 0, weights, 8, 14, 1)
	damped := Rank(candidates, hours, 0, weights, 8, 14, 1.5)

	scoreOf := func(bs []Breakdown, id string) float64 {
		for _, b := range bs {
			if b.InterpreterID == id {
				return b.FairnessScore
			}
		}
		t.Fatalf("missing breakdown for %s", id)
		return 0
	}

	if scoreOf(damped, "newcomer") >= scoreOf(undamped, "newcomer") {
		t.Errorf("expected newcomerFactor > 1 to reduce the newcomer's fairness score")
	}
	if scoreOf(damped, "veteran") != scoreOf(undamped, "veteran") {
		t.Errorf("expected the non-newcomer's score to be unaffected by newcomerFactor")
	}
}
