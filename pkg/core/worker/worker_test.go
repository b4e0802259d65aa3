package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// mockReadinessWaiter is a mock implementation of health.ReadinessWaiter
type mockReadinessWaiter struct {
	readyChan chan struct{}
}

func newMockReadinessWaiter() *mockReadinessWaiter {
	return &mockReadinessWaiter{readyChan: make(chan struct{})}
}

func (m *mockReadinessWaiter) WaitReady(ctx context.Context) error {
	select {
	case <-m.readyChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mockReadinessWaiter) MarkReady() {
	close(m.readyChan)
}

// mockShutdowner is a mock implementation of fx.Shutdowner
type mockShutdowner struct {
	shutdownCalled atomic.Bool
}

func (m *mockShutdowner) Shutdown(...fx.ShutdownOption) error {
	m.shutdownCalled.Store(true)
	return nil
}

func newTestWorker(runFunc func(ctx context.Context) error, readiness *mockReadinessWaiter, shutdowner *mockShutdowner, opts Options) *baseWorker {
	return &baseWorker{
		name:       "test-worker",
		log:        zap.NewNop(),
		runFunc:    runFunc,
		shutdowner: shutdowner,
		readiness:  readiness,
		options:    opts,
	}
}

func TestOptions(t *testing.T) {
	t.Run("default options", func(t *testing.T) {
		opts := Options{}
		assert.False(t, opts.WaitReady)
		assert.False(t, opts.ShutdownOnError)
		assert.False(t, opts.RestartOnError)
	})

	t.Run("multiple options", func(t *testing.T) {
		opts := Options{}
		WithReady()(&opts)
		WithShutdown()(&opts)
		WithRestart(time.Second)(&opts)

		assert.True(t, opts.WaitReady)
		assert.True(t, opts.ShutdownOnError)
		assert.True(t, opts.RestartOnError)
		assert.Equal(t, time.Second, opts.MaxRestartInterval)
	})
}

func TestBaseWorker_StartStop(t *testing.T) {
	t.Run("runs the function until stopped", func(t *testing.T) {
		executed := make(chan struct{})
		w := newTestWorker(func(ctx context.Context) error {
			close(executed)
			<-ctx.Done()
			return nil
		}, newMockReadinessWaiter(), &mockShutdowner{}, Options{})

		w.Start()

		select {
		case <-executed:
		case <-time.After(time.Second):
			t.Fatal("worker did not run")
		}
		w.Stop()
	})

	t.Run("waits for readiness before running", func(t *testing.T) {
		readiness := newMockReadinessWaiter()
		var executed atomic.Bool
		w := newTestWorker(func(ctx context.Context) error {
			executed.Store(true)
			<-ctx.Done()
			return nil
		}, readiness, &mockShutdowner{}, Options{WaitReady: true})

		w.Start()
		time.Sleep(20 * time.Millisecond)
		assert.False(t, executed.Load())

		readiness.MarkReady()
		assert.Eventually(t, executed.Load, time.Second, 5*time.Millisecond)
		w.Stop()
	})

	t.Run("stop while waiting for readiness does not run", func(t *testing.T) {
		var executed atomic.Bool
		w := newTestWorker(func(ctx context.Context) error {
			executed.Store(true)
			return nil
		}, newMockReadinessWaiter(), &mockShutdowner{}, Options{WaitReady: true})

		w.Start()
		w.Stop()

		assert.False(t, executed.Load())
	})
}

func TestBaseWorker_ErrorHandling(t *testing.T) {
	t.Run("shutdown is requested on fatal error", func(t *testing.T) {
		shutdowner := &mockShutdowner{}
		w := newTestWorker(func(ctx context.Context) error {
			return errors.New("store unavailable")
		}, newMockReadinessWaiter(), shutdowner, Options{ShutdownOnError: true})

		w.Start()
		assert.Eventually(t, shutdowner.shutdownCalled.Load, time.Second, 5*time.Millisecond)
		w.Stop()
	})

	t.Run("error without shutdown option only stops the worker", func(t *testing.T) {
		shutdowner := &mockShutdowner{}
		w := newTestWorker(func(ctx context.Context) error {
			return errors.New("store unavailable")
		}, newMockReadinessWaiter(), shutdowner, Options{})

		w.Start()
		w.wg.Wait()
		w.Stop()

		assert.False(t, shutdowner.shutdownCalled.Load())
	})

	t.Run("restart runs the function again after an error", func(t *testing.T) {
		var calls atomic.Int32
		w := newTestWorker(func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			<-ctx.Done()
			return nil
		}, newMockReadinessWaiter(), &mockShutdowner{}, Options{RestartOnError: true, MaxRestartInterval: 10 * time.Millisecond})

		w.Start()
		assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
		w.Stop()
	})
}

func TestRegister(t *testing.T) {
	var started atomic.Bool
	dep := &runnableStub{run: func(ctx context.Context) error {
		started.Store(true)
		<-ctx.Done()
		return nil
	}}

	readiness := newMockReadinessWaiter()
	readiness.MarkReady()

	app := fx.New(
		fx.NopLogger,
		fx.Supply(zap.NewNop(), dep),
		fx.Provide(func() health.ReadinessWaiter { return readiness }),
		fx.Provide(Register[*runnableStub]("stub", WithReady())),
		NewWorkersModule(),
	)
	require.NoError(t, app.Err())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, app.Start(ctx))
	assert.Eventually(t, started.Load, time.Second, 5*time.Millisecond)
	require.NoError(t, app.Stop(ctx))
}

type runnableStub struct {
	run func(ctx context.Context) error
}

func (r *runnableStub) Run(ctx context.Context) error {
	return r.run(ctx)
}
