package mailqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func pending(id string, queued int, attempts int) QueueRecord {
	return QueueRecord{
		ID:         id,
		Payload:    []byte(id),
		QueuedTime: t0.Add(time.Duration(queued) * time.Second),
		Attempts:   attempts,
	}
}

// idMaterializer builds a message from the record id and rejects the given ids.
func idMaterializer(malformed ...string) Materializer {
	bad := make(map[string]bool)
	for _, id := range malformed {
		bad[id] = true
	}
	return MaterializerFunc(func(r QueueRecord) (Message, error) {
		if bad[r.ID] {
			return Message{}, fmt.Errorf("%w: no recipients", ErrMalformedRecord)
		}
		return Message{ID: r.ID, Subject: string(r.Payload)}, nil
	})
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDispatcher(t *testing.T, cfg Config, store Store, m Materializer, tr Transport, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(cfg, store, m, tr, opts...)
	require.NoError(t, err)
	return d
}

func testConfig(batchSize, maxAttempts int) Config {
	cfg := DefaultConfig()
	cfg.BatchSize = batchSize
	cfg.MaxAttempts = maxAttempts
	return cfg
}

func TestDispatcher_Process_FIFOBatchesAndRetry(t *testing.T) {
	// Given: batchSize=2, maxAttempts=3 and three pending records
	ctx := context.Background()
	clock := &fixedClock{now: t0.Add(time.Hour)}
	store := newMockStore(pending("A", 1, 0), pending("B", 2, 0), pending("C", 3, 0))
	transport := newMockTransport("C")
	d := newTestDispatcher(t, testConfig(2, 3), store, idMaterializer(), transport, WithClock(clock.Now))

	// When: the first round runs
	ok, err := d.Process(ctx)

	// Then: A and B are sent and C is untouched
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, transport.Sent())
	for _, id := range []string{"A", "B"} {
		r := store.Get(id)
		require.NotNil(t, r.SentTime, id)
		assert.Equal(t, clock.Now(), *r.SentTime)
		assert.Equal(t, 1, r.Attempts)
		assert.Equal(t, StateSent, r.State(3))
	}
	assert.Equal(t, 0, store.Get("C").Attempts)
	assert.Nil(t, store.Get("C").LastAttemptTime)

	// When: the second round runs
	clock.Advance(time.Minute)
	ok, err = d.Process(ctx)

	// Then: only C is selected, its send fails and it stays pending
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"A", "B", "C"}, transport.Sent())
	c := store.Get("C")
	assert.Equal(t, 1, c.Attempts)
	require.NotNil(t, c.LastAttemptTime)
	assert.Equal(t, clock.Now(), *c.LastAttemptTime)
	assert.Nil(t, c.SentTime)
	assert.Equal(t, StatePending, c.State(3))
}

func TestDispatcher_Process_FinalFailureExhaustsRecord(t *testing.T) {
	// Given: a record one attempt away from the ceiling
	ctx := context.Background()
	store := newMockStore(pending("D", 1, 2))
	transport := newMockTransport("D")
	d := newTestDispatcher(t, testConfig(10, 3), store, idMaterializer(), transport)

	// When: its send fails
	report, err := d.ProcessRound(ctx)

	// Then: it becomes exhausted and is reported as such
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, []string{"D"}, report.Exhausted)
	assert.Equal(t, 3, store.Get("D").Attempts)
	assert.Nil(t, store.Get("D").SentTime)
	assert.Equal(t, StateExhausted, store.Get("D").State(3))

	// And: it is never selected again
	ok, err := d.Process(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"D"}, transport.Sent())
}

func TestDispatcher_Process_MaterializationFailureIsSkipped(t *testing.T) {
	// Given: a malformed record between two good ones
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	store := newMockStore(pending("A", 1, 0), pending("E", 2, 1), pending("B", 3, 0))
	transport := newMockTransport()
	d := newTestDispatcher(t, testConfig(10, 3), store, idMaterializer("E"), transport, WithLogger(zap.New(core)))

	// When: the round runs
	report, err := d.ProcessRound(ctx)

	// Then: E is skipped without an attempt and the round still succeeds
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, RoundReport{Selected: 3, Attempted: 2, Sent: 2, Skipped: 1}, report)
	assert.Equal(t, []string{"A", "B"}, transport.Sent())
	e := store.Get("E")
	assert.Equal(t, 1, e.Attempts)
	assert.Nil(t, e.LastAttemptTime)
	assert.Equal(t, StatePending, e.State(3))

	// And: the skip is logged with the record id
	skipped := logs.FilterMessage("skipping record that cannot be materialized").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, "E", skipped[0].ContextMap()["record_id"])
}

func TestDispatcher_Process_TransportLogsCarryRecordID(t *testing.T) {
	// Given a transport that logs through its context
	core, logs := observer.New(zapcore.InfoLevel)
	store := newMockStore(pending("A", 1, 0))
	transport := TransportFunc(func(ctx context.Context, msg Message) error {
		logger.Get(ctx).Info("delivering")
		return nil
	})
	d := newTestDispatcher(t, testConfig(10, 3), store, idMaterializer(), transport, WithLogger(zap.New(core)))

	// When
	ok, err := d.Process(context.Background())

	// Then
	require.NoError(t, err)
	assert.True(t, ok)
	entries := logs.FilterMessage("delivering").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "A", entries[0].ContextMap()["record_id"])
	assert.Equal(t, "mailqueue", entries[0].ContextMap()["component"])
}

func TestDispatcher_Process_EmptyQueue(t *testing.T) {
	transport := newMockTransport()
	d := newTestDispatcher(t, testConfig(10, 3), newMockStore(), idMaterializer(), transport)

	ok, err := d.Process(context.Background())

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, transport.Sent())
}

func TestDispatcher_Process_FailedSendDoesNotAbortRound(t *testing.T) {
	// Given: the first record fails and the rest succeed
	store := newMockStore(pending("A", 1, 0), pending("B", 2, 0), pending("C", 3, 0))
	transport := newMockTransport("A")
	d := newTestDispatcher(t, testConfig(10, 3), store, idMaterializer(), transport)

	// When: the round runs
	report, err := d.ProcessRound(context.Background())

	// Then: every record is attempted and the round is marked failed
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, []string{"A", "B", "C"}, transport.Sent())
}

func TestDispatcher_Process_WritesOnlyAttemptFields(t *testing.T) {
	clock := &fixedClock{now: t0.Add(time.Hour)}
	store := newMockStore(pending("ok", 1, 0), pending("bad", 2, 1))
	d := newTestDispatcher(t, testConfig(10, 3), store, idMaterializer(), newMockTransport("bad"), WithClock(clock.Now))

	_, err := d.Process(context.Background())
	require.NoError(t, err)

	sentAt := clock.Now()
	assert.Equal(t, []recordedUpdate{
		{id: "ok", update: Update{Attempts: 1, LastAttemptTime: sentAt, SentTime: &sentAt}},
		{id: "bad", update: Update{Attempts: 2, LastAttemptTime: sentAt}},
	}, store.Updates())
}

func TestDispatcher_Process_StoreErrors(t *testing.T) {
	t.Run("selection failure is a hard error", func(t *testing.T) {
		store := newMockStore(pending("A", 1, 0))
		store.selectErr = errors.New("connection refused")
		transport := newMockTransport()
		d := newTestDispatcher(t, testConfig(10, 3), store, idMaterializer(), transport)

		ok, err := d.Process(context.Background())

		require.Error(t, err)
		assert.False(t, ok)
		assert.ErrorContains(t, err, "failed to select queue records")
		assert.ErrorIs(t, err, store.selectErr)
		assert.Empty(t, transport.Sent())
	})

	t.Run("update failure stops the round and keeps earlier updates", func(t *testing.T) {
		store := newMockStore(pending("A", 1, 0), pending("B", 2, 0), pending("C", 3, 0))
		updateErr := errors.New("write conflict")
		store.SetUpdateError("B", updateErr)
		transport := newMockTransport()
		d := newTestDispatcher(t, testConfig(10, 3), store, idMaterializer(), transport)

		report, err := d.ProcessRound(context.Background())

		require.Error(t, err)
		assert.ErrorIs(t, err, updateErr)
		assert.ErrorContains(t, err, "failed to update queue record B")
		assert.Equal(t, 1, report.Sent)
		assert.NotNil(t, store.Get("A").SentTime)
		assert.Equal(t, 0, store.Get("C").Attempts)
		assert.Equal(t, []string{"A", "B"}, transport.Sent())
	})
}

func TestDispatcher_Process_CancellationBetweenRecords(t *testing.T) {
	// Given: a transport that cancels the round while sending the first record
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := newMockStore(pending("A", 1, 0), pending("B", 2, 0))
	inner := newMockTransport()
	transport := TransportFunc(func(ctx context.Context, msg Message) error {
		err := inner.Send(ctx, msg)
		cancel()
		return err
	})
	d := newTestDispatcher(t, testConfig(10, 3), store, idMaterializer(), transport)

	// When: the round runs
	_, err := d.Process(ctx)

	// Then: the round is aborted, A keeps its update and B stays eligible
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotNil(t, store.Get("A").SentTime)
	assert.Equal(t, 0, store.Get("B").Attempts)
	assert.Equal(t, []string{"A"}, inner.Sent())
}

func TestDispatcher_Process_AttemptsNeverExceedCeiling(t *testing.T) {
	store := newMockStore(pending("A", 1, 0), pending("B", 2, 0))
	transport := newMockTransport("A", "B")
	d := newTestDispatcher(t, testConfig(10, 3), store, idMaterializer(), transport)

	previous := map[string]int{}
	for round := 0; round < 6; round++ {
		_, err := d.Process(context.Background())
		require.NoError(t, err)
		for _, id := range []string{"A", "B"} {
			attempts := store.Get(id).Attempts
			assert.GreaterOrEqual(t, attempts, previous[id])
			assert.LessOrEqual(t, attempts, 3)
			previous[id] = attempts
		}
	}
	assert.Len(t, transport.Sent(), 6)
}

func TestDispatcher_Process_Concurrent(t *testing.T) {
	// Given: more records than the concurrency limit, some failing
	var records []QueueRecord
	var failing []string
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("r%02d", i)
		records = append(records, pending(id, i, 2))
		if i%4 == 0 {
			failing = append(failing, id)
		}
	}
	store := newMockStore(records...)
	transport := newMockTransport(failing...)
	transport.delay = time.Millisecond
	cfg := testConfig(10, 3)
	cfg.Concurrency = 4
	d := newTestDispatcher(t, cfg, store, idMaterializer("r05"), transport)

	// When: the round runs
	report, err := d.ProcessRound(context.Background())

	// Then: each selected record is handled exactly once
	require.NoError(t, err)
	assert.Equal(t, 10, report.Selected)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 9, report.Attempted)
	assert.Equal(t, 3, report.Failed)
	assert.Equal(t, []string{"r00", "r04", "r08"}, report.Exhausted, "exhausted ids keep selection order")
	assert.ElementsMatch(t, []string{"r00", "r01", "r02", "r03", "r04", "r06", "r07", "r08", "r09"}, transport.Sent())
	assert.Len(t, store.Updates(), 9)
	assert.Nil(t, store.Get("r10").LastAttemptTime, "records beyond the batch are untouched")
}

func TestDispatcher_Process_Lease(t *testing.T) {
	t.Run("two dispatchers sharing a store never send the same record", func(t *testing.T) {
		var records []QueueRecord
		for i := 0; i < 20; i++ {
			records = append(records, pending(fmt.Sprintf("r%02d", i), i, 0))
		}
		store := &mockClaimStore{mockStore: newMockStore(records...)}
		transport := newMockTransport()
		cfg := testConfig(5, 3)
		cfg.Lease = time.Minute

		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			d := newTestDispatcher(t, cfg, store, idMaterializer(), transport)
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 2; j++ {
					_, err := d.Process(context.Background())
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		sent := transport.Sent()
		assert.Len(t, sent, 20)
		assert.ElementsMatch(t, sent, uniq(sent))
		assert.Equal(t, 4, store.claims)
		assert.Equal(t, 0, store.selects)
	})

	t.Run("lease requires a claiming store", func(t *testing.T) {
		cfg := testConfig(5, 3)
		cfg.Lease = time.Minute

		_, err := NewDispatcher(cfg, newMockStore(), idMaterializer(), newMockTransport())

		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestNewDispatcher_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero batch size", Config{BatchSize: 0, MaxAttempts: 3, Concurrency: 1}},
		{"negative max attempts", Config{BatchSize: 1, MaxAttempts: -1, Concurrency: 1}},
		{"zero concurrency", Config{BatchSize: 1, MaxAttempts: 3, Concurrency: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDispatcher(tt.cfg, newMockStore(), idMaterializer(), newMockTransport())

			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	t.Run("missing collaborators", func(t *testing.T) {
		_, err := NewDispatcher(DefaultConfig(), nil, idMaterializer(), newMockTransport())

		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestDispatcher_Instrumentation(t *testing.T) {
	// Given: a dispatcher wired to in-memory metric and span exporters
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	store := newMockStore(pending("A", 1, 0), pending("B", 2, 2), pending("E", 3, 0))
	d := newTestDispatcher(t, testConfig(10, 3), store, idMaterializer("E"), newMockTransport("B"),
		WithMeterProvider(mp), WithTracerProvider(tp))

	// When: the round runs
	_, err := d.Process(context.Background())
	require.NoError(t, err)

	// Then: per-record counters are recorded
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	sums := counterSums(rm)
	assert.Equal(t, int64(1), sums["mailqueue.records.sent"])
	assert.Equal(t, int64(1), sums["mailqueue.records.failed"])
	assert.Equal(t, int64(1), sums["mailqueue.records.skipped"])
	assert.Equal(t, int64(1), sums["mailqueue.records.exhausted"])
	assert.Equal(t, int64(1), sums["mailqueue.rounds"])

	// And: the round span has one child span per attempted send
	names := map[string]int{}
	for _, s := range recorder.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names["mailqueue.process"])
	assert.Equal(t, 2, names["mailqueue.send"])
}

func counterSums(rm metricdata.ResourceMetrics) map[string]int64 {
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					out[m.Name] += dp.Value
				}
			}
		}
	}
	return out
}

func uniq(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
