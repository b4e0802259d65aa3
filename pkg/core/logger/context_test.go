package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGet_WithNilContext(t *testing.T) {
	// Given: a nop default logger
	original := defaultLogger
	defaultLogger = zap.NewNop()
	t.Cleanup(func() { defaultLogger = original })

	// When: getting logger from nil context
	//nolint:staticcheck // nil context is part of the contract
	logger := Get(nil)

	// Then: should return default logger
	assert.Same(t, defaultLogger, logger)
}

func TestGet_WithEmptyContext(t *testing.T) {
	// When: getting logger from a context without one
	logger := Get(context.Background())

	// Then: should return default logger
	assert.Same(t, defaultLogger, logger)
}

func TestWith_RoundTrip(t *testing.T) {
	// Given: context with an observed logger
	core, logs := observer.New(zapcore.InfoLevel)
	custom := zap.New(core)
	ctx := With(context.Background(), custom)

	// When: logging through the context logger
	Get(ctx).Info("from context")

	// Then: the custom logger receives the entry
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "from context", logs.All()[0].Message)
}

func TestWith_NilContext(t *testing.T) {
	// When: attaching to a nil context
	//nolint:staticcheck // nil context is part of the contract
	ctx := With(nil, zap.NewNop())

	// Then: a usable context is returned
	require.NotNil(t, ctx)
	assert.NotNil(t, Get(ctx))
}
