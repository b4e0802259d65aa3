package app

import (
	"context"
	"testing"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/core"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/config"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/logger"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/observability"
	otelconfig "github.com/Sokol111/ecommerce-mailqueue/pkg/observability/config"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
	"go.uber.org/zap/zapcore"
)

const testConfig = `
mailqueue:
  batch-size: 5
  max-attempts: 2
  interval: 20ms
  default-from: noreply@example.com
transport:
  kind: log
observability:
  tracing:
    enabled: true
`

func testOptions(extra ...Option) []Option {
	return append([]Option{
		WithCoreOptions(
			core.WithAppConfig(config.AppConfig{ServiceName: "mailqueue", ServiceVersion: "test", Environment: "test"}),
			core.WithLoggerConfig(logger.Config{Level: zapcore.ErrorLevel, StacktraceLevel: zapcore.FatalLevel}),
			core.WithViperOptions(config.WithConfigContent("yaml", testConfig)),
			core.WithoutEnvFile(),
		),
		WithPersistenceOptions(persistence.WithBackend(persistence.BackendMemory)),
	}, extra...)
}

func enqueue(t *testing.T, repo mailqueue.Repository, to string) mailqueue.QueueRecord {
	t.Helper()
	payload, err := mailqueue.EncodePayload(mailqueue.Payload{To: []string{to}, Subject: "Hi", Text: "Hello"})
	require.NoError(t, err)
	record := mailqueue.NewRecord(payload, time.Now())
	require.NoError(t, repo.Enqueue(context.Background(), record))
	return record
}

func TestModule_ProcessesQueuedMail(t *testing.T) {
	// Given
	var (
		d    *mailqueue.Dispatcher
		repo mailqueue.Repository
		cfg  mailqueue.Config
	)
	app := fx.New(
		Module(testOptions()...),
		fx.Populate(&d, &repo, &cfg),
	)
	require.NoError(t, app.Err())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, app.Start(ctx))
	defer func() { require.NoError(t, app.Stop(ctx)) }()

	record := enqueue(t, repo, "bob@example.com")

	// When
	ok, err := d.Process(ctx)

	// Then
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, cfg.BatchSize)

	got, err := repo.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, mailqueue.StateSent, got.State(cfg.MaxAttempts))
	assert.Equal(t, 1, got.Attempts)
}

func TestModule_RunnerDrainsQueue(t *testing.T) {
	var repo mailqueue.Repository
	app := fx.New(
		Module(testOptions(WithRunner())...),
		fx.Populate(&repo),
	)
	require.NoError(t, app.Err())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	record := enqueue(t, repo, "carol@example.com")
	require.NoError(t, app.Start(ctx))
	defer func() { require.NoError(t, app.Stop(ctx)) }()

	assert.Eventually(t, func() bool {
		got, err := repo.Get(ctx, record.ID)
		return err == nil && got.SentTime != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestModule_ForwardsObservabilityOptions(t *testing.T) {
	// Given tracing enabled in the config file
	var (
		cfg otelconfig.Config
		tp  trace.TracerProvider
	)

	// When the commands that never run a round switch it off
	app := fx.New(
		Module(testOptions(WithObservabilityOptions(observability.WithoutTracing(), observability.WithoutMetrics()))...),
		fx.Populate(&cfg, &tp),
	)

	// Then
	require.NoError(t, app.Err())
	assert.False(t, cfg.Tracing.Enabled)
	assert.False(t, cfg.Metrics.Enabled)
	assert.IsType(t, tracenoop.TracerProvider{}, tp)
}
