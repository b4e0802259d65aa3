package mailqueue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// mockStore is a hand-written in-memory Store with error injection.
type mockStore struct {
	mu         sync.Mutex
	records    map[string]QueueRecord
	selectErr  error
	updateErrs map[string]error
	updates    []recordedUpdate
	selects    int
}

type recordedUpdate struct {
	id     string
	update Update
}

func newMockStore(records ...QueueRecord) *mockStore {
	s := &mockStore{
		records:    make(map[string]QueueRecord),
		updateErrs: make(map[string]error),
	}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

func (s *mockStore) SelectEligible(_ context.Context, maxAttempts int, limit int) ([]QueueRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selects++
	if s.selectErr != nil {
		return nil, s.selectErr
	}
	return s.eligibleLocked(maxAttempts, limit, func(QueueRecord) bool { return true }), nil
}

func (s *mockStore) UpdatePartial(_ context.Context, id string, update Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateErrs[id]; err != nil {
		return err
	}
	r, ok := s.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	s.records[id] = r.Apply(update)
	s.updates = append(s.updates, recordedUpdate{id: id, update: update})
	return nil
}

func (s *mockStore) eligibleLocked(maxAttempts, limit int, extra func(QueueRecord) bool) []QueueRecord {
	var out []QueueRecord
	for _, r := range s.records {
		if r.Eligible(maxAttempts) && extra(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QueuedTime.Equal(out[j].QueuedTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].QueuedTime.Before(out[j].QueuedTime)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *mockStore) SetUpdateError(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateErrs[id] = err
}

func (s *mockStore) Get(id string) QueueRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

func (s *mockStore) Updates() []recordedUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedUpdate(nil), s.updates...)
}

// mockClaimStore adds lease-based claiming to mockStore.
type mockClaimStore struct {
	*mockStore
	claims int
}

func (s *mockClaimStore) ClaimEligible(_ context.Context, maxAttempts int, limit int, now time.Time, leaseUntil time.Time) ([]QueueRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims++
	out := s.eligibleLocked(maxAttempts, limit, func(r QueueRecord) bool {
		return r.LockedUntil == nil || !r.LockedUntil.After(now)
	})
	for i := range out {
		lease := leaseUntil
		out[i].LockedUntil = &lease
		s.records[out[i].ID] = out[i]
	}
	return out, nil
}

// mockTransport records sends and fails for configured message ids.
type mockTransport struct {
	mu    sync.Mutex
	fail  map[string]bool
	sent  []string
	delay time.Duration
}

var errDeliveryRefused = errors.New("550 mailbox unavailable")

func newMockTransport(failIDs ...string) *mockTransport {
	t := &mockTransport{fail: make(map[string]bool)}
	for _, id := range failIDs {
		t.fail[id] = true
	}
	return t
}

func (t *mockTransport) Send(ctx context.Context, msg Message) error {
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg.ID)
	if t.fail[msg.ID] {
		return errDeliveryRefused
	}
	return nil
}

func (t *mockTransport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}
