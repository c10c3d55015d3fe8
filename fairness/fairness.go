// Package fairness implements the Fairness Calculator (C4): rolling
// per-interpreter hour totals over the fairness window, and the fairness
// score used by the Scorer & Ranker.
package fairness

import (
	"context"
	"time"

	"github.com/lucidrelay/interpassign/store"
)

// Calculator wraps a BookingStore to compute rolling hour totals.
type Calculator struct {
	bookings store.BookingStore
}

// New builds a Calculator over bookings.
func New(bookings store.BookingStore) *Calculator {
	return &Calculator{bookings: bookings}
}

// Hours returns, for every interpreter, the sum of booking durations with
// status=approve and timeStart in [now-windowDays, now).
func (c *Calculator) Hours(ctx context.Context, now time.Time, windowDays int) (map[string]float64, error) {
	windowStart := now.AddDate(0, 0, -windowDays)
	bookings, err := c.bookings.ListApprovedInWindow(ctx, windowStart, now)
	if err != nil {
		return nil, err
	}

	hours := make(map[string]float64)
	for _, b := range bookings {
		if b.AssignedInterpreter == "" {
			continue
		}
		hours[b.AssignedInterpreter] += b.Duration().Hours()
	}
	return hours, nil
}

// Eligibility is the per-interpreter result of scoring against the
// fairness gap rule (§4.4).
type Eligibility struct {
	Score     float64
	Eligible  bool
	Reason    string
}

// Score computes interpreter i's fairness score given the current hours
// map h, i's own current hours (0 if absent from h), candidateDuration
// (the booking under consideration), and maxGapHours. i is ineligible
// when assigning it would stretch the post-assignment hour spread beyond
// maxGapHours. newcomerFactor damps the score for a newly-arrived
// interpreter without moving the eligibility cutoff (§4.9's roster-growth
// adjustment); pass 1 for a candidate that isn't a newcomer.
func Score(h map[string]float64, interpreterID string, candidateDuration time.Duration, maxGapHours, newcomerFactor float64) Eligibility {
	minH, _ := minMax(h)
	hi := h[interpreterID]
	gap := hi - minH

	projected := make(map[string]float64, len(h)+1)
	for k, v := range h {
		projected[k] = v
	}
	projected[interpreterID] = hi + candidateDuration.Hours()

	pMin, pMax := minMax(projected)
	if pMax-pMin > maxGapHours {
		return Eligibility{Eligible: false, Reason: "would exceed max gap"}
	}

	score := 1 - gap/maxGapHoursOrOne(maxGapHours)
	if newcomerFactor > 1 {
		score /= newcomerFactor
	}
	return Eligibility{Score: clamp(score, 0, 1), Eligible: true}
}

func maxGapHoursOrOne(maxGapHours float64) float64 {
	if maxGapHours == 0 {
		return 1
	}
	return maxGapHours
}

func minMax(h map[string]float64) (min, max float64) {
	first := true
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
	return min, max
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
