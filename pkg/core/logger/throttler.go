package logger

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultThrottleInterval = 5 * time.Minute

// LogThrottler logs a message at WARN at most once per interval per key,
// demoting repeats to DEBUG. Each instance keeps its own limiters, so
// components throttle independently.
type LogThrottler struct {
	log      *zap.Logger
	limiters sync.Map // map[string]*rate.Limiter
	interval time.Duration
}

// NewLogThrottler creates a new LogThrottler.
// If interval is 0, it defaults to 5 minutes.
func NewLogThrottler(log *zap.Logger, interval time.Duration) *LogThrottler {
	if interval == 0 {
		interval = defaultThrottleInterval
	}
	return &LogThrottler{
		log:      log,
		interval: interval,
	}
}

// Warn logs as WARN once per interval per key, DEBUG otherwise.
// It reports whether the message was emitted at WARN.
func (t *LogThrottler) Warn(key string, msg string, fields ...zap.Field) bool {
	if t.limiter(key).Allow() {
		t.log.Warn(msg, fields...)
		return true
	}
	t.log.Debug(msg, fields...)
	return false
}

// Forget drops the limiter for key, so the next Warn for it is emitted at WARN.
func (t *LogThrottler) Forget(key string) {
	t.limiters.Delete(key)
}

func (t *LogThrottler) limiter(key string) *rate.Limiter {
	if limiter, ok := t.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	// 1 event per interval, no burst
	limiter := rate.NewLimiter(rate.Every(t.interval), 1)
	actual, _ := t.limiters.LoadOrStore(key, limiter)
	return actual.(*rate.Limiter)
}
