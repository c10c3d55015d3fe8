// Package scoring implements the Scorer & Ranker (C6): combines fairness,
// urgency, and LRS into a total score, applies the DR penalty, breaks ties
// deterministically, and sorts.
package scoring

import (
	"sort"
	"time"

	"github.com/lucidrelay/interpassign/drhistory"
	"github.com/lucidrelay/interpassign/fairness"
	"github.com/lucidrelay/interpassign/policy"
)

// Candidate is one interpreter under consideration for a booking.
type Candidate struct {
	InterpreterID      string
	CurrentHours       float64 // hours_i before this assignment
	DaysSinceLast      float64 // passed unclamped; Lrs clamps it to fairnessWindowDays
	NeverAssigned      bool
	DurationHours      float64 // the candidate booking's own duration
	IsNewcomer         bool    // flagged by the Dynamic-Pool Adjuster (C9)

	IsDR     bool
	DR       drhistory.Outcome
}

// Breakdown is the per-candidate score decomposition, persisted verbatim
// into the AssignmentLog's scoreBreakdown field (§3).
type Breakdown struct {
	InterpreterID  string
	FairnessScore  float64
	UrgencyScore   float64
	LrsScore       float64
	DRPenalty      float64
	TotalScore     float64
	Eligible       bool
	IneligibleReason string
}

// Urgency computes the per-booking urgency score (§4.6), identical for
// every candidate of a given booking.
func Urgency(daysUntilStart float64, urgentThresholdDays, generalThresholdDays int) float64 {
	u := float64(urgentThresholdDays)
	g := float64(generalThresholdDays)
	switch {
	case daysUntilStart <= u:
		return 1
	case daysUntilStart >= g:
		return 0
	default:
		return (g - daysUntilStart) / (g - u)
	}
}

// Lrs computes the Least-Recently-Served score for one candidate.
func Lrs(daysSinceLastAssignment float64, neverAssigned bool, fairnessWindowDays int) float64 {
	if neverAssigned {
		return 1
	}
	d := daysSinceLastAssignment
	if d > float64(fairnessWindowDays) {
		d = float64(fairnessWindowDays)
	}
	if fairnessWindowDays == 0 {
		return 1
	}
	return d / float64(fairnessWindowDays)
}

// Rank scores and sorts candidates for a booking, using each Candidate's
// DurationHours, given the current hours map hours (zero-filled for
// every active interpreter by the caller, per §4.4), urgency (computed
// once per booking), weights, maxGapHours, fairnessWindowDays, and
// newcomerFactor (the Dynamic-Pool Adjuster's roster-growth damping
// factor, §4.9 — applied only to candidates with IsNewcomer set; pass 1
// when no roster growth adjustment is in effect). Returns breakdowns in
// final ranked order (highest score first); ineligible candidates are
// placed after all eligible ones, in arbitrary order.
func Rank(candidates []Candidate, hours map[string]float64, urgency float64, weights policy.Weights, maxGapHours float64, fairnessWindowDays int, newcomerFactor float64) []Breakdown {
	type ranked struct {
		b    Breakdown
		c    Candidate
	}
	var eligible []ranked
	var ineligible []Breakdown

	for _, c := range candidates {
		factor := 1.0
		if c.IsNewcomer {
			factor = newcomerFactor
		}
		fe := fairness.Score(hours, c.InterpreterID, time.Duration(c.DurationHours*float64(time.Hour)), maxGapHours, factor)
		if !fe.Eligible {
			ineligible = append(ineligible, Breakdown{
				InterpreterID:    c.InterpreterID,
				Eligible:         false,
				IneligibleReason: fe.Reason,
			})
			continue
		}
		if c.IsDR && c.DR.Blocked {
			ineligible = append(ineligible, Breakdown{
				InterpreterID:    c.InterpreterID,
				Eligible:         false,
				IneligibleReason: c.DR.Reason,
			})
			continue
		}

		lrs := Lrs(c.DaysSinceLast, c.NeverAssigned, fairnessWindowDays)

		drPenalty := 0.0
		if c.IsDR && c.DR.PenaltyApplied {
			drPenalty = c.DR.PenaltyAmount
		}

		total := weights.Fair*fe.Score + weights.Urgency*urgency + weights.Lrs*lrs + drPenalty

		b := Breakdown{
			InterpreterID: c.InterpreterID,
			FairnessScore: fe.Score,
			UrgencyScore:  urgency,
			LrsScore:      lrs,
			DRPenalty:     drPenalty,
			TotalScore:    total,
			Eligible:      true,
		}
		eligible = append(eligible, ranked{b: b, c: c})
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		si := tieBrokenScore(eligible[i].b.TotalScore, eligible[i].c)
		sj := tieBrokenScore(eligible[j].b.TotalScore, eligible[j].c)
		if si != sj {
			return si > sj
		}
		if eligible[i].c.DaysSinceLast != eligible[j].c.DaysSinceLast {
			return eligible[i].c.DaysSinceLast > eligible[j].c.DaysSinceLast
		}
		if eligible[i].c.CurrentHours != eligible[j].c.CurrentHours {
			return eligible[i].c.CurrentHours < eligible[j].c.CurrentHours
		}
		return eligible[i].c.InterpreterID < eligible[j].c.InterpreterID
	})

	result := make([]Breakdown, 0, len(eligible)+len(ineligible))
	for _, r := range eligible {
		result = append(result, r.b)
	}
	result = append(result, ineligible...)
	return result
}

// tieBrokenScore adds the three vanishing offsets of §4.6, in order, so
// that a sort on score alone is already fully deterministic — the
// secondary sort keys below only matter on exact floating-point equality
// of this combined value, which in practice means identical inputs.
func tieBrokenScore(score float64, c Candidate) float64 {
	return score + 1e-4*c.DaysSinceLast - 1e-5*c.CurrentHours + float64(hash32(c.InterpreterID))*1e-7
}

// hash32 is the FNV-1 32-bit hash used for the tie-break offset; a pure
// function of the interpreter id, matching the requirement that ranking
// have no clock or RNG dependency.
func hash32(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h *= 16777619
		h ^= uint32(s[i])
	}
	return h
}
