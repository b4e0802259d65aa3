package mailqueue

import (
	"context"
	"errors"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/logger"
	"go.uber.org/zap"
)

type roundProcessor interface {
	ProcessRound(ctx context.Context) (RoundReport, error)
}

// Runner invokes a processing round immediately and then once per interval.
type Runner struct {
	processor     roundProcessor
	interval      time.Duration
	stopOnFailure bool
	log           *zap.Logger
	errLog        *logger.LogThrottler
}

func NewRunner(dispatcher *Dispatcher, cfg Config, log *zap.Logger) *Runner {
	return newRunner(dispatcher, cfg, log)
}

func newRunner(processor roundProcessor, cfg Config, log *zap.Logger) *Runner {
	log = log.With(zap.String("component", "mailqueue-runner"))
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		processor:     processor,
		interval:      interval,
		stopOnFailure: cfg.StopOnFailure,
		log:           log,
		errLog:        logger.NewLogThrottler(log, time.Minute),
	}
}

// Run processes rounds until ctx is done. It returns an error only when
// configured to stop on a hard round failure.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("mailqueue runner started", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.round(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runner) round(ctx context.Context) error {
	report, err := r.processor.ProcessRound(ctx)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil
		}
		if r.stopOnFailure {
			return err
		}
		r.errLog.Warn("round-error", "processing round failed", zap.Error(err))
		return nil
	}
	r.errLog.Forget("round-error")

	if report.Selected == 0 {
		return nil
	}

	fields := []zap.Field{
		zap.Int("selected", report.Selected),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
	}
	if len(report.Exhausted) > 0 {
		fields = append(fields, zap.Strings("exhausted", report.Exhausted))
	}
	if report.OK() {
		r.log.Info("round finished", fields...)
	} else {
		r.log.Warn("round finished with failed sends", fields...)
	}
	return nil
}
