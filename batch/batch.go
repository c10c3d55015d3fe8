// Package batch implements the Batch Optimiser (C7): active only in
// BALANCE mode, it drains a bounded number of ready pool entries together
// so the set of assignments minimises the post-assignment fairness
// spread, rather than picking each entry's top candidate independently.
package batch

import (
	"sort"
	"time"

	"github.com/lucidrelay/interpassign/scoring"
)

const (
	standardBatchSize = 10
	urgentBatchSize   = 15
	topK              = 3
)

// BatchSize returns the drain size for this tick: 15 if any entry is
// within 24h of its own timeStart, else the standard 10 (§4.7).
func BatchSize(entries []Entry) int {
	for _, e := range entries {
		if time.Until(e.TimeStart) <= 24*time.Hour {
			return urgentBatchSize
		}
	}
	return standardBatchSize
}

// Entry is one ready pool entry being considered for this batch, with its
// top-K eligible candidates already scored by C6 against H₀.
type Entry struct {
	BookingID    int64
	TimeStart    time.Time
	TimeEnd      time.Time
	DeadlineTime time.Time
	Priority     int
	Candidates   []scoring.Breakdown // eligible only, already ranked desc, len <= topK
	Duration     time.Duration
}

// Pick is one entry's resolved outcome within the batch.
type Pick struct {
	BookingID     int64
	InterpreterID string
	Score         float64
	Emergency     bool // processed via the deadline short-circuit
	NoCandidate   bool // no eligible/available candidate survived in-batch conflicts
}

// Result is the BatchAssignmentResult of §4.7.5: per-entry outcomes plus
// the fairness-gap delta the batch produced.
type Result struct {
	Picks          []Pick
	InitialSpread  float64
	FinalSpread    float64
}

// Plan runs the C7 algorithm over entries given the current per-interpreter
// hours H₀. It never mutates a store: callers are responsible for
// committing each Pick (via the normal per-booking commit path, so
// CommitAssignment's re-check still guards against a real external
// conflict at write time).
func Plan(entries []Entry, hours map[string]float64, now time.Time) Result {
	h := cloneHours(hours)
	initialSpread := spread(h)

	// Sort entries by deadline ascending so the emergency pass processes
	// the most overdue work first and the greedy pass has a stable order.
	ordered := append([]Entry(nil), entries...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DeadlineTime.Before(ordered[j].DeadlineTime)
	})

	// booked tracks provisional picks this batch has made, so the greedy
	// phase can detect a *new* in-batch conflict without a store round
	// trip (§4.7 "must not assign the same interpreter twice ... if doing
	// so would create a new conflict").
	booked := make(map[string][]bookedInterval)

	overlapsBooked := func(interpreterID string, e Entry) bool {
		for _, iv := range booked[interpreterID] {
			if e.TimeStart.Before(iv.end) && iv.start.Before(e.TimeEnd) {
				return true
			}
		}
		return false
	}

	var picks []Pick

	// Emergency short-circuit: entries already past deadline go through
	// C6's direct top-candidate path before the greedy phase runs.
	var emergency, rest []Entry
	for _, e := range ordered {
		if !now.Before(e.DeadlineTime) {
			emergency = append(emergency, e)
		} else {
			rest = append(rest, e)
		}
	}

	for _, e := range emergency {
		pick := pickFirstAvailable(e, overlapsBooked)
		pick.Emergency = true
		applyPick(pick, e, h, booked)
		picks = append(picks, pick)
	}

	// Greedy phase: for each remaining entry, choose among its top-K
	// candidates the one that reduces the projected spread the most
	// relative to the default top-1; ties keep C6's original order.
	for _, e := range rest {
		best := greedyPick(e, h, overlapsBooked)
		applyPick(best, e, h, booked)
		picks = append(picks, best)
	}

	return Result{
		Picks:         picks,
		InitialSpread: initialSpread,
		FinalSpread:   spread(h),
	}
}

// bookedInterval is one provisional in-batch assignment's time window.
type bookedInterval struct{ start, end time.Time }

func pickFirstAvailable(e Entry, overlapsBooked func(string, Entry) bool) Pick {
	for _, c := range e.Candidates {
		if !overlapsBooked(c.InterpreterID, e) {
			return Pick{BookingID: e.BookingID, InterpreterID: c.InterpreterID, Score: c.TotalScore}
		}
	}
	return Pick{BookingID: e.BookingID, NoCandidate: true}
}

func greedyPick(e Entry, h map[string]float64, overlapsBooked func(string, Entry) bool) Pick {
	var candidates []scoring.Breakdown
	for _, c := range e.Candidates {
		if !overlapsBooked(c.InterpreterID, e) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return Pick{BookingID: e.BookingID, NoCandidate: true}
	}
	if len(candidates) == 1 {
		return Pick{BookingID: e.BookingID, InterpreterID: candidates[0].InterpreterID, Score: candidates[0].TotalScore}
	}

	defaultPick := candidates[0]
	bestSpread := projectedSpread(h, defaultPick.InterpreterID, e.Duration)
	best := defaultPick

	for _, c := range candidates[1:] {
		s := projectedSpread(h, c.InterpreterID, e.Duration)
		if s < bestSpread {
			bestSpread = s
			best = c
		}
	}

	return Pick{BookingID: e.BookingID, InterpreterID: best.InterpreterID, Score: best.TotalScore}
}

func applyPick(pick Pick, e Entry, h map[string]float64, booked map[string][]bookedInterval) {
	if pick.NoCandidate {
		return
	}
	h[pick.InterpreterID] += e.Duration.Hours()
	booked[pick.InterpreterID] = append(booked[pick.InterpreterID], bookedInterval{e.TimeStart, e.TimeEnd})
}

func projectedSpread(h map[string]float64, interpreterID string, duration time.Duration) float64 {
	projected := cloneHours(h)
	projected[interpreterID] += duration.Hours()
	return spread(projected)
}

func spread(h map[string]float64) float64 {
	first := true
	var min, max float64
	for _, v := range h {
		if first {
			min, max = v, v
			first = false
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return max - min
}

func cloneHours(h map[string]float64) map[string]float64 {
	cp := make(map[string]float64, len(h))
	for k, v := range h {
		cp[k] = v
	}
	return cp
}
