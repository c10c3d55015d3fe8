package store

import (
	"context"
	"time"

	"github.com/lucidrelay/interpassign/policy"
)

// StatusSet is a small set-of-statuses argument used by listOverlapping so
// callers can choose whether "waiting" bookings count as conflicts.
type StatusSet map[BookingStatus]bool

// ApprovedOnly is the hard-block conflict default (§4.3).
func ApprovedOnly() StatusSet { return StatusSet{StatusApproved: true} }

// ApprovedAndWaiting additionally treats pending bookings as conflicts.
func ApprovedAndWaiting() StatusSet {
	return StatusSet{StatusApproved: true, StatusWaiting: true}
}

// DRFilter narrows lastDR lookups by drType when the policy scope is
// BY_TYPE, and by whether pending ("waiting") bookings count.
type DRFilter struct {
	DRType              string // empty means "any" (GLOBAL scope)
	IncludePending      bool
}

// BookingStore is the durable collaborator holding bookings and assignments.
// The engine never writes bookings directly except through CommitAssignment
// and SetStatus (§3 ownership note).
type BookingStore interface {
	GetBooking(ctx context.Context, id int64) (*Booking, error)
	ListActiveInterpreters(ctx context.Context) ([]*Interpreter, error)

	// ListOverlapping returns bookings for interpreterID whose window
	// intersects [t1, t2) and whose status is in statuses.
	ListOverlapping(ctx context.Context, interpreterID string, t1, t2 time.Time, statuses StatusSet) ([]*Booking, error)

	// ListApprovedInWindow returns all approved bookings starting in [t1, t2),
	// used by the Fairness Calculator to sum hours per interpreter.
	ListApprovedInWindow(ctx context.Context, t1, t2 time.Time) ([]*Booking, error)

	// LastDR returns the most recent DR booking starting before `before`,
	// or nil if there is none.
	LastDR(ctx context.Context, before time.Time, filter DRFilter) (*Booking, error)

	// DaysSinceLast returns the number of days since interpreterID's most
	// recent approved assignment; hasAny is false (and days is 0) if it has none.
	DaysSinceLast(ctx context.Context, interpreterID string, now time.Time) (float64, bool, error)

	// CommitAssignment atomically re-checks for an overlap and, if none is
	// found, writes AssignedInterpreter + Status=approve. committed is
	// false (not an error) when another writer took the interpreter first.
	CommitAssignment(ctx context.Context, bookingID int64, interpreterID string) (committed bool, err error)

	SetStatus(ctx context.Context, bookingID int64, status BookingStatus) error
}

// PolicyStore is the read-mostly collaborator for policy and threshold data.
type PolicyStore interface {
	GetPolicy(ctx context.Context) (policy.AssignmentPolicy, error)
	GetThresholds(ctx context.Context, mt MeetingType, mode policy.Mode) (policy.ModeThreshold, bool, error)

	// WritePolicy validates+clamps patch, persists it, bumps Generation,
	// and returns the sanitised stored value.
	WritePolicy(ctx context.Context, patch policy.AssignmentPolicy) (policy.AssignmentPolicy, error)
}

// LogSink is best-effort and non-blocking for the decision path: a failure
// here never fails an assignment (§6, §7 LogSinkFailure).
type LogSink interface {
	Append(ctx context.Context, entry AssignmentLog) error
}

// Clock is injectable for deterministic tests (§6).
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a test Clock that never advances unless explicitly Set.
type FixedClock struct {
	t time.Time
}

// NewFixedClock returns a Clock pinned at t.
func NewFixedClock(t time.Time) *FixedClock { return &FixedClock{t: t} }

func (c *FixedClock) Now() time.Time { return c.t }

// Set moves the fixed clock to t.
func (c *FixedClock) Set(t time.Time) { c.t = t }

// Advance moves the fixed clock forward by d.
func (c *FixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
