// Package conflict implements the Conflict Detector (C3): given a
// candidate interpreter and a time window, it reports any overlapping
// accepted bookings.
package conflict

import (
	"context"
	"time"

	"github.com/lucidrelay/interpassign/store"
)

// Conflict describes one overlapping booking blocking a candidate
// interpreter from a time window.
type Conflict struct {
	InterpreterID string
	Booking       *store.Booking
}

// Detector wraps a BookingStore to answer availability queries. It holds
// no state of its own: "consistent with writes" (§4.3) falls out of
// BookingStore.CommitAssignment being visible to the same store instance
// the detector reads from.
type Detector struct {
	bookings store.BookingStore
}

// New builds a Detector over bookings.
func New(bookings store.BookingStore) *Detector {
	return &Detector{bookings: bookings}
}

// Available reports whether interpreterID has no approved booking
// overlapping [t1, t2).
func (d *Detector) Available(ctx context.Context, interpreterID string, t1, t2 time.Time) (bool, error) {
	overlapping, err := d.bookings.ListOverlapping(ctx, interpreterID, t1, t2, store.ApprovedOnly())
	if err != nil {
		return false, err
	}
	return len(overlapping) == 0, nil
}

// Conflicts returns every approved booking of interpreterID overlapping
// [t1, t2).
func (d *Detector) Conflicts(ctx context.Context, interpreterID string, t1, t2 time.Time) ([]Conflict, error) {
	overlapping, err := d.bookings.ListOverlapping(ctx, interpreterID, t1, t2, store.ApprovedOnly())
	if err != nil {
		return nil, err
	}
	result := make([]Conflict, 0, len(overlapping))
	for _, b := range overlapping {
		result = append(result, Conflict{InterpreterID: interpreterID, Booking: b})
	}
	return result, nil
}

// FilterAvailable narrows interpreterIDs down to those available for
// [t1, t2).
func (d *Detector) FilterAvailable(ctx context.Context, interpreterIDs []string, t1, t2 time.Time) ([]string, error) {
	var available []string
	for _, id := range interpreterIDs {
		ok, err := d.Available(ctx, id, t1, t2)
		if err != nil {
			return nil, err
		}
		if ok {
			available = append(available, id)
		}
	}
	return available, nil
}
