package mailqueue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRecordNotFound is returned when a record does not exist in the store.
	ErrRecordNotFound = errors.New("queue record not found")

	// ErrDuplicateRecord is returned when enqueuing a record whose id is taken.
	ErrDuplicateRecord = errors.New("queue record already exists")

	// ErrInvalidConfig is returned for an unusable dispatcher configuration.
	ErrInvalidConfig = errors.New("invalid mailqueue configuration")
)

// Store is the queue persistence the dispatcher depends on.
type Store interface {
	// SelectEligible returns at most limit records with no sent time and
	// fewer than maxAttempts attempts, oldest queued first.
	SelectEligible(ctx context.Context, maxAttempts int, limit int) ([]QueueRecord, error)

	// UpdatePartial writes the attempt bookkeeping of a single record,
	// leaving every other field untouched.
	UpdatePartial(ctx context.Context, id string, update Update) error
}

// Claimer is implemented by stores that can select and lease records in one
// atomic step, so that concurrent dispatchers never share a record.
type Claimer interface {
	// ClaimEligible selects like SelectEligible, skipping records whose lease
	// is later than now, and leases the selected records until leaseUntil.
	ClaimEligible(ctx context.Context, maxAttempts int, limit int, now time.Time, leaseUntil time.Time) ([]QueueRecord, error)
}

// Writer enqueues new records.
type Writer interface {
	Enqueue(ctx context.Context, record QueueRecord) error
}

// Inspector exposes read access for operators.
type Inspector interface {
	Get(ctx context.Context, id string) (QueueRecord, error)
	ListByState(ctx context.Context, state State, maxAttempts int, limit int) ([]QueueRecord, error)
	Counts(ctx context.Context, maxAttempts int) (StateCounts, error)
}

// Repository is a store supporting every queue operation.
type Repository interface {
	Store
	Writer
	Inspector
}
