// Package memstore is an in-process queue store for tests and local runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"github.com/samber/lo"
)

// Store keeps queue records in memory. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	records map[string]mailqueue.QueueRecord
}

var (
	_ mailqueue.Repository = (*Store)(nil)
	_ mailqueue.Claimer    = (*Store)(nil)
)

func New(records ...mailqueue.QueueRecord) *Store {
	s := &Store{records: make(map[string]mailqueue.QueueRecord, len(records))}
	for _, r := range records {
		s.records[r.ID] = clone(r)
	}
	return s
}

func (s *Store) Enqueue(_ context.Context, record mailqueue.QueueRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("failed to enqueue %s: %w", record.ID, mailqueue.ErrDuplicateRecord)
	}
	s.records[record.ID] = clone(record)
	return nil
}

func (s *Store) SelectEligible(_ context.Context, maxAttempts int, limit int) ([]mailqueue.QueueRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.selectLocked(limit, func(r mailqueue.QueueRecord) bool {
		return r.Eligible(maxAttempts)
	}), nil
}

func (s *Store) ClaimEligible(_ context.Context, maxAttempts int, limit int, now time.Time, leaseUntil time.Time) ([]mailqueue.QueueRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claimed := s.selectLocked(limit, func(r mailqueue.QueueRecord) bool {
		return r.Eligible(maxAttempts) && (r.LockedUntil == nil || !r.LockedUntil.After(now))
	})
	for i := range claimed {
		lease := leaseUntil
		claimed[i].LockedUntil = &lease
		s.records[claimed[i].ID] = clone(claimed[i])
	}
	return claimed, nil
}

func (s *Store) UpdatePartial(_ context.Context, id string, update mailqueue.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return fmt.Errorf("failed to update %s: %w", id, mailqueue.ErrRecordNotFound)
	}
	s.records[id] = record.Apply(update)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (mailqueue.QueueRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return mailqueue.QueueRecord{}, mailqueue.ErrRecordNotFound
	}
	return clone(record), nil
}

func (s *Store) ListByState(_ context.Context, state mailqueue.State, maxAttempts int, limit int) ([]mailqueue.QueueRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.selectLocked(limit, func(r mailqueue.QueueRecord) bool {
		return r.State(maxAttempts) == state
	}), nil
}

func (s *Store) Counts(_ context.Context, maxAttempts int) (mailqueue.StateCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts mailqueue.StateCounts
	for _, r := range s.records {
		switch r.State(maxAttempts) {
		case mailqueue.StatePending:
			counts.Pending++
		case mailqueue.StateSent:
			counts.Sent++
		case mailqueue.StateExhausted:
			counts.Exhausted++
		}
	}
	return counts, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) selectLocked(limit int, match func(mailqueue.QueueRecord) bool) []mailqueue.QueueRecord {
	matched := lo.Filter(lo.Values(s.records), func(r mailqueue.QueueRecord, _ int) bool {
		return match(r)
	})
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].QueuedTime.Equal(matched[j].QueuedTime) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].QueuedTime.Before(matched[j].QueuedTime)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return lo.Map(matched, func(r mailqueue.QueueRecord, _ int) mailqueue.QueueRecord {
		return clone(r)
	})
}

func clone(r mailqueue.QueueRecord) mailqueue.QueueRecord {
	r.Payload = append([]byte(nil), r.Payload...)
	r.SentTime = cloneTime(r.SentTime)
	r.LastAttemptTime = cloneTime(r.LastAttemptTime)
	r.LockedUntil = cloneTime(r.LockedUntil)
	return r
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
