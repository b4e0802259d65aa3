package mailqueue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the delivery state of a queue record relative to an attempt ceiling.
type State string

const (
	StatePending   State = "pending"
	StateSent      State = "sent"
	StateExhausted State = "exhausted"
)

// ParseState parses the lower-case name of a state.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StatePending, StateSent, StateExhausted:
		return State(s), nil
	}
	return "", fmt.Errorf("unknown record state %q", s)
}

// QueueRecord is one persisted outbound message awaiting delivery.
type QueueRecord struct {
	ID              string
	Payload         []byte
	QueuedTime      time.Time
	SentTime        *time.Time
	Attempts        int
	LastAttemptTime *time.Time
	// LockedUntil is set while a dispatcher holds a claim on the record.
	LockedUntil *time.Time
}

// NewRecord creates a pending record with a fresh id, queued now.
func NewRecord(payload []byte, now time.Time) QueueRecord {
	return QueueRecord{
		ID:         uuid.NewString(),
		Payload:    payload,
		QueuedTime: now.UTC(),
	}
}

// State reports the record state for the given attempt ceiling.
func (r QueueRecord) State(maxAttempts int) State {
	switch {
	case r.SentTime != nil:
		return StateSent
	case r.Attempts >= maxAttempts:
		return StateExhausted
	default:
		return StatePending
	}
}

// Eligible reports whether the record may be selected for a round.
func (r QueueRecord) Eligible(maxAttempts int) bool {
	return r.State(maxAttempts) == StatePending
}

// Apply returns a copy of the record with the update applied.
func (r QueueRecord) Apply(u Update) QueueRecord {
	r.Attempts = u.Attempts
	lastAttempt := u.LastAttemptTime
	r.LastAttemptTime = &lastAttempt
	if u.SentTime != nil {
		sent := *u.SentTime
		r.SentTime = &sent
	}
	r.LockedUntil = nil
	return r
}

// Update is the partial write issued after one delivery attempt.
// Only these fields are written; SentTime is written only when non-nil.
// Writing an update also releases any claim held on the record.
type Update struct {
	Attempts        int
	LastAttemptTime time.Time
	SentTime        *time.Time
}

// StateCounts is the number of records per state.
type StateCounts struct {
	Pending   int64
	Sent      int64
	Exhausted int64
}

// Total is the number of records in the store.
func (c StateCounts) Total() int64 {
	return c.Pending + c.Sent + c.Exhausted
}
