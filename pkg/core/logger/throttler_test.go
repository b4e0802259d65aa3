package logger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogThrottler_DefaultInterval(t *testing.T) {
	throttler := NewLogThrottler(zap.NewNop(), 0)

	require.NotNil(t, throttler)
	assert.Equal(t, defaultThrottleInterval, throttler.interval)
}

func TestLogThrottler_Warn_SubsequentCallsLogDebug(t *testing.T) {
	// Given: a throttler with a long interval
	core, logs := observer.New(zapcore.DebugLevel)
	throttler := NewLogThrottler(zap.New(core), time.Hour)

	// When: multiple calls with the same key
	first := throttler.Warn("record-1", "first message", zap.String("field", "value"))
	second := throttler.Warn("record-1", "second message")

	// Then: first should be WARN, the rest DEBUG
	require.Equal(t, 2, logs.Len())
	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
	assert.Equal(t, "value", logs.All()[0].ContextMap()["field"])
	assert.Equal(t, zapcore.DebugLevel, logs.All()[1].Level)
}

func TestLogThrottler_Warn_KeysAreIndependent(t *testing.T) {
	// Given: a throttler with a long interval
	core, logs := observer.New(zapcore.DebugLevel)
	throttler := NewLogThrottler(zap.New(core), time.Hour)

	// When: two keys log once each
	throttler.Warn("record-1", "message")
	throttler.Warn("record-2", "message")

	// Then: both are WARN
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
	assert.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)
}

func TestLogThrottler_Forget(t *testing.T) {
	// Given: a key that already used its token
	core, logs := observer.New(zapcore.DebugLevel)
	throttler := NewLogThrottler(zap.New(core), time.Hour)
	throttler.Warn("record-1", "message")

	// When: the key is forgotten
	throttler.Forget("record-1")
	throttler.Warn("record-1", "message")

	// Then: the next message is WARN again
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)
}

func TestLogThrottler_ConcurrentAccess(t *testing.T) {
	// Given: a throttler shared by goroutines
	core, logs := observer.New(zapcore.DebugLevel)
	throttler := NewLogThrottler(zap.New(core), time.Hour)

	// When: many goroutines warn on the same key
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			throttler.Warn("shared", "message")
		}()
	}
	wg.Wait()

	// Then: exactly one WARN is emitted
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Equal(t, 50, logs.Len())
}
