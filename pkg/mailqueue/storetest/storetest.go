// Package storetest holds the behaviour every queue store must share.
// Backend tests call Run, and RunClaimer when the backend leases records.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) mailqueue.Repository

// Base is the queued time of the first fixture record. Offsets are whole
// seconds so that every backend stores them without rounding.
var Base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// Record builds a fixture record queued at Base plus offset seconds.
func Record(id string, offset int, attempts int, sent bool) mailqueue.QueueRecord {
	r := mailqueue.QueueRecord{
		ID:         id,
		Payload:    []byte(`{"subject":"` + id + `"}`),
		QueuedTime: Base.Add(time.Duration(offset) * time.Second),
		Attempts:   attempts,
	}
	if attempts > 0 {
		last := r.QueuedTime.Add(time.Minute)
		r.LastAttemptTime = &last
	}
	if sent {
		sentAt := r.QueuedTime.Add(time.Minute)
		r.SentTime = &sentAt
	}
	return r
}

// Seed enqueues the records into the store.
func Seed(t *testing.T, store mailqueue.Writer, records ...mailqueue.QueueRecord) {
	t.Helper()
	for _, r := range records {
		require.NoError(t, store.Enqueue(context.Background(), r))
	}
}

// IDs returns the ids of the records in order.
func IDs(records []mailqueue.QueueRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

// Run exercises the Repository contract.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("select returns eligible records oldest first", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store,
			Record("c", 3, 0, false),
			Record("sent", 0, 1, true),
			Record("a", 1, 2, false),
			Record("exhausted", 0, 3, false),
			Record("b", 2, 0, false),
		)

		got, err := store.SelectEligible(ctx, 3, 10)

		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, IDs(got))
	})

	t.Run("select honours the limit", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store, Record("a", 1, 0, false), Record("b", 2, 0, false), Record("c", 3, 0, false))

		got, err := store.SelectEligible(ctx, 3, 2)

		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, IDs(got))
	})

	t.Run("select on an empty store", func(t *testing.T) {
		got, err := newStore(t).SelectEligible(ctx, 3, 10)

		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("records round-trip through the store", func(t *testing.T) {
		store := newStore(t)
		want := Record("a", 1, 1, false)
		Seed(t, store, want)

		got, err := store.Get(ctx, "a")

		require.NoError(t, err)
		AssertRecord(t, want, got)
	})

	t.Run("failed attempt writes only attempt fields", func(t *testing.T) {
		store := newStore(t)
		original := Record("a", 1, 1, false)
		Seed(t, store, original)
		at := Base.Add(time.Hour)

		require.NoError(t, store.UpdatePartial(ctx, "a", mailqueue.Update{Attempts: 2, LastAttemptTime: at}))

		got, err := store.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Attempts)
		require.NotNil(t, got.LastAttemptTime)
		assert.WithinDuration(t, at, *got.LastAttemptTime, 0)
		assert.Nil(t, got.SentTime)
		assert.Equal(t, original.Payload, got.Payload)
		assert.WithinDuration(t, original.QueuedTime, got.QueuedTime, 0)
	})

	t.Run("successful attempt sets the sent time", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store, Record("a", 1, 0, false), Record("b", 2, 0, false))
		at := Base.Add(time.Hour)

		require.NoError(t, store.UpdatePartial(ctx, "a", mailqueue.Update{Attempts: 1, LastAttemptTime: at, SentTime: &at}))

		got, err := store.Get(ctx, "a")
		require.NoError(t, err)
		require.NotNil(t, got.SentTime)
		assert.WithinDuration(t, at, *got.SentTime, 0)
		eligible, err := store.SelectEligible(ctx, 3, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, IDs(eligible))
	})

	t.Run("final failed attempt exhausts the record", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store, Record("a", 1, 2, false))

		require.NoError(t, store.UpdatePartial(ctx, "a", mailqueue.Update{Attempts: 3, LastAttemptTime: Base.Add(time.Hour)}))

		eligible, err := store.SelectEligible(ctx, 3, 10)
		require.NoError(t, err)
		assert.Empty(t, eligible)
		exhausted, err := store.ListByState(ctx, mailqueue.StateExhausted, 3, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, IDs(exhausted))
	})

	t.Run("update of an unknown record", func(t *testing.T) {
		err := newStore(t).UpdatePartial(ctx, "missing", mailqueue.Update{Attempts: 1, LastAttemptTime: Base})

		assert.ErrorIs(t, err, mailqueue.ErrRecordNotFound)
	})

	t.Run("get of an unknown record", func(t *testing.T) {
		_, err := newStore(t).Get(ctx, "missing")

		assert.ErrorIs(t, err, mailqueue.ErrRecordNotFound)
	})

	t.Run("enqueue rejects a duplicate id", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store, Record("a", 1, 0, false))

		err := store.Enqueue(ctx, Record("a", 2, 0, false))

		assert.ErrorIs(t, err, mailqueue.ErrDuplicateRecord)
	})

	t.Run("inspection by state", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store,
			Record("p1", 1, 0, false),
			Record("p2", 2, 2, false),
			Record("s1", 3, 1, true),
			Record("s2", 4, 3, true),
			Record("e1", 5, 3, false),
		)

		counts, err := store.Counts(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, mailqueue.StateCounts{Pending: 2, Sent: 2, Exhausted: 1}, counts)

		for state, want := range map[mailqueue.State][]string{
			mailqueue.StatePending:   {"p1", "p2"},
			mailqueue.StateSent:      {"s1", "s2"},
			mailqueue.StateExhausted: {"e1"},
		} {
			got, err := store.ListByState(ctx, state, 3, 10)
			require.NoError(t, err)
			assert.Equal(t, want, IDs(got), state)
		}

		limited, err := store.ListByState(ctx, mailqueue.StatePending, 3, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"p1"}, IDs(limited))
	})

	t.Run("raising the ceiling makes exhausted records pending again", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store, Record("a", 1, 3, false))

		got, err := store.SelectEligible(ctx, 5, 10)

		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, IDs(got))
	})
}

// RunClaimer exercises lease-based selection. The store must implement
// mailqueue.Claimer.
func RunClaimer(t *testing.T, newStore Factory) {
	ctx := context.Background()
	now := Base.Add(time.Hour)

	claimer := func(t *testing.T, store mailqueue.Repository) mailqueue.Claimer {
		t.Helper()
		c, ok := store.(mailqueue.Claimer)
		require.True(t, ok, "%T does not implement mailqueue.Claimer", store)
		return c
	}

	t.Run("claimed records are hidden from other claims", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store, Record("a", 1, 0, false), Record("b", 2, 0, false), Record("c", 3, 0, false))
		c := claimer(t, store)

		first, err := c.ClaimEligible(ctx, 3, 2, now, now.Add(time.Minute))
		require.NoError(t, err)
		second, err := c.ClaimEligible(ctx, 3, 2, now, now.Add(time.Minute))
		require.NoError(t, err)

		assert.Equal(t, []string{"a", "b"}, IDs(first))
		assert.Equal(t, []string{"c"}, IDs(second))
		require.NotNil(t, first[0].LockedUntil)
		assert.WithinDuration(t, now.Add(time.Minute), *first[0].LockedUntil, 0)
	})

	t.Run("expired lease can be claimed again", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store, Record("a", 1, 0, false))
		c := claimer(t, store)

		_, err := c.ClaimEligible(ctx, 3, 10, now, now.Add(time.Minute))
		require.NoError(t, err)

		got, err := c.ClaimEligible(ctx, 3, 10, now.Add(2*time.Minute), now.Add(3*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, IDs(got))
	})

	t.Run("update releases the lease", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store, Record("a", 1, 0, false))
		c := claimer(t, store)

		_, err := c.ClaimEligible(ctx, 3, 10, now, now.Add(time.Hour))
		require.NoError(t, err)
		require.NoError(t, store.UpdatePartial(ctx, "a", mailqueue.Update{Attempts: 1, LastAttemptTime: now}))

		got, err := c.ClaimEligible(ctx, 3, 10, now, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, IDs(got))
		assert.Equal(t, 1, got[0].Attempts)
	})

	t.Run("claim skips sent and exhausted records", func(t *testing.T) {
		store := newStore(t)
		Seed(t, store, Record("sent", 1, 1, true), Record("exhausted", 2, 3, false), Record("a", 3, 0, false))

		got, err := claimer(t, store).ClaimEligible(ctx, 3, 10, now, now.Add(time.Minute))

		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, IDs(got))
	})
}

// AssertRecord compares records by instant rather than by time location.
func AssertRecord(t *testing.T, want, got mailqueue.QueueRecord) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Payload, got.Payload)
	assert.Equal(t, want.Attempts, got.Attempts)
	assert.WithinDuration(t, want.QueuedTime, got.QueuedTime, 0)
	assertTime(t, "sentTime", want.SentTime, got.SentTime)
	assertTime(t, "lastAttemptTime", want.LastAttemptTime, got.LastAttemptTime)
}

func assertTime(t *testing.T, field string, want, got *time.Time) {
	t.Helper()
	if want == nil {
		assert.Nil(t, got, field)
		return
	}
	if assert.NotNil(t, got, field) {
		assert.WithinDuration(t, *want, *got, 0, field)
	}
}
