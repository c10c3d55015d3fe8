package store

import (
	"context"
	"encoding/json"
	"log"
)

// StdLogSink appends each AssignmentLog as one JSON line via the standard
// logger, mirroring how the scheduler logs its decisions: marshal, then
// log.Println the raw bytes. It never returns an error, since a failure to
// serialize or print a decision record must not fail the assignment that
// produced it (§7 LogSinkFailure is about losing the durable sink, not this
// fallback path).
type StdLogSink struct{}

// NewStdLogSink returns a LogSink that writes to the standard logger.
func NewStdLogSink() StdLogSink { return StdLogSink{} }

func (StdLogSink) Append(ctx context.Context, entry AssignmentLog) error {
	bytes, err := json.Marshal(entry)
	if err != nil {
		log.Printf("assignment log marshal failed for booking %d: %v", entry.BookingID, err)
		return nil
	}
	log.Println(string(bytes))
	return nil
}

// FailingLogSink is a LogSink stub whose Append always returns Err, for
// exercising the "log sink unavailable, assignment still commits" path (§7).
type FailingLogSink struct {
	Err error
}

func (f FailingLogSink) Append(ctx context.Context, entry AssignmentLog) error {
	return f.Err
}
