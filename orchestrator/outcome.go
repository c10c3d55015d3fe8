package orchestrator

import (
	"time"

	"github.com/lucidrelay/interpassign/scoring"
)

// OutcomeKind discriminates the three shapes an assign call can return
// (§7 "callers receive a discriminated outcome").
type OutcomeKind string

const (
	OutcomeAssigned  OutcomeKind = "assigned"
	OutcomeEscalated OutcomeKind = "escalated"
	OutcomePooled    OutcomeKind = "pooled"
)

// Outcome is the result of Engine.Assign.
type Outcome struct {
	Kind OutcomeKind

	// OutcomeAssigned
	InterpreterID string
	Score         float64

	// OutcomeEscalated
	Reason    string
	Breakdown []scoring.Breakdown

	// OutcomePooled
	Deadline time.Time
}
