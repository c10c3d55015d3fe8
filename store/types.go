// Package store defines the engine's domain types and the external
// interfaces it depends on (Booking Store, Policy Store, Log Sink, Clock),
// plus the reference implementations of those interfaces.
package store

import "time"

// MeetingType is the categorical tag driving thresholds and weights.
type MeetingType string

const (
	MeetingDR        MeetingType = "DR"
	MeetingVIP       MeetingType = "VIP"
	MeetingWeekly    MeetingType = "Weekly"
	MeetingGeneral   MeetingType = "General"
	MeetingUrgent    MeetingType = "Urgent"
	MeetingOther     MeetingType = "Other"
	MeetingPresident MeetingType = "President"
)

// BookingStatus is the lifecycle state of a Booking.
type BookingStatus string

const (
	StatusWaiting  BookingStatus = "waiting"
	StatusApproved BookingStatus = "approve"
	StatusCancel   BookingStatus = "cancel"
	StatusComplete BookingStatus = "complete"
)

// Booking is immutable from the engine's perspective except for
// AssignedInterpreter and Status.
type Booking struct {
	ID                  int64
	MeetingType         MeetingType
	DRType              string // DR sub-class, only meaningful when MeetingType == MeetingDR
	TimeStart           time.Time
	TimeEnd             time.Time // half-open: [TimeStart, TimeEnd)
	Room                string
	OwnerID             string
	CreatedAt           time.Time
	Status              BookingStatus
	AssignedInterpreter string // empty when unassigned
}

// Duration returns the booking's span.
func (b Booking) Duration() time.Duration {
	return b.TimeEnd.Sub(b.TimeStart)
}

// Overlaps reports whether the booking's half-open window intersects [t1, t2).
func (b Booking) Overlaps(t1, t2 time.Time) bool {
	return b.TimeStart.Before(t2) && t1.Before(b.TimeEnd)
}

// Interpreter is a stable-identity assignable service provider.
type Interpreter struct {
	ID       string // "empCode"
	Active   bool
	JoinedAt time.Time
}

// AssignmentLog is an append-only audit record of one decision.
type AssignmentLog struct {
	BookingID         int64
	Outcome           string // "assigned" | "escalated" | "batch_summary"
	Reason            string
	PreHoursSnapshot  map[string]float64
	PostHoursSnapshot map[string]float64
	ScoreBreakdown    string // JSON-encoded breakdown, opaque to the store
	PolicyFingerprint string
	CorrelationID     string
	Timestamp         time.Time
}
