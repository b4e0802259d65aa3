package mailqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RoundReport summarizes one processing round.
type RoundReport struct {
	Selected  int
	Attempted int
	Sent      int
	Failed    int
	Skipped   int
	// Exhausted lists the records that reached the attempt ceiling in this round.
	Exhausted []string
}

// OK reports whether every attempted send in the round succeeded.
// Skipped records do not count against the round.
func (r RoundReport) OK() bool {
	return r.Failed == 0
}

func (r *RoundReport) add(id string, o recordOutcome) {
	if o.skipped {
		r.Skipped++
		return
	}
	r.Attempted++
	if o.sent {
		r.Sent++
	} else {
		r.Failed++
	}
	if o.exhausted {
		r.Exhausted = append(r.Exhausted, id)
	}
}

type recordOutcome struct {
	skipped   bool
	sent      bool
	exhausted bool
}

type dispatcherOptions struct {
	log              *zap.Logger
	now              func() time.Time
	meterProvider    metric.MeterProvider
	tracerProvider   trace.TracerProvider
	throttleInterval time.Duration
}

// Option configures a Dispatcher.
type Option func(*dispatcherOptions)

func WithLogger(log *zap.Logger) Option {
	return func(o *dispatcherOptions) {
		o.log = log
	}
}

// WithClock overrides the time source used for attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *dispatcherOptions) {
		o.now = now
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *dispatcherOptions) {
		o.meterProvider = mp
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *dispatcherOptions) {
		o.tracerProvider = tp
	}
}

// WithSkipLogInterval sets how often an unmaterializable record is logged at WARN.
func WithSkipLogInterval(interval time.Duration) Option {
	return func(o *dispatcherOptions) {
		o.throttleInterval = interval
	}
}

// Dispatcher runs processing rounds over a queue store.
// It keeps no state between rounds; everything lives in the store.
type Dispatcher struct {
	cfg          Config
	store        Store
	claimer      Claimer
	materializer Materializer
	transport    Transport
	log          *zap.Logger
	skipLog      *logger.LogThrottler
	now          func() time.Time
	inst         *instruments
}

func NewDispatcher(cfg Config, store Store, materializer Materializer, transport Transport, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || materializer == nil || transport == nil {
		return nil, fmt.Errorf("%w: store, materializer and transport are required", ErrInvalidConfig)
	}

	o := dispatcherOptions{
		log:            zap.NewNop(),
		now:            time.Now,
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var claimer Claimer
	if cfg.Lease > 0 {
		c, ok := store.(Claimer)
		if !ok {
			return nil, fmt.Errorf("%w: lease is set but the store %T cannot claim records", ErrInvalidConfig, store)
		}
		claimer = c
	}

	inst, err := newInstruments(o.meterProvider, o.tracerProvider)
	if err != nil {
		return nil, err
	}

	log := o.log.With(zap.String("component", "mailqueue"))
	return &Dispatcher{
		cfg:          cfg,
		store:        store,
		claimer:      claimer,
		materializer: materializer,
		transport:    transport,
		log:          log,
		skipLog:      logger.NewLogThrottler(log, o.throttleInterval),
		now:          o.now,
		inst:         inst,
	}, nil
}

// Process runs one round. It returns true iff every materializable record
// in the batch was sent. Store failures are returned as errors; transport
// failures are not.
func (d *Dispatcher) Process(ctx context.Context) (bool, error) {
	report, err := d.ProcessRound(ctx)
	if err != nil {
		return false, err
	}
	return report.OK(), nil
}

// ProcessRound runs one round and reports per-record outcomes.
func (d *Dispatcher) ProcessRound(ctx context.Context) (report RoundReport, err error) {
	started := time.Now()
	ctx, span := d.inst.tracer.Start(ctx, "mailqueue.process")
	defer func() {
		d.inst.recordRound(ctx, report, err, time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	records, err := d.selectBatch(ctx)
	if err != nil {
		return report, err
	}
	report.Selected = len(records)
	span.SetAttributes(attrSelected.Int(len(records)))

	if d.cfg.Concurrency > 1 && len(records) > 1 {
		err = d.processConcurrently(ctx, records, &report)
	} else {
		err = d.processSequentially(ctx, records, &report)
	}
	if err != nil {
		return report, err
	}

	if report.Selected > 0 {
		d.log.Debug("round completed",
			zap.Int("selected", report.Selected),
			zap.Int("sent", report.Sent),
			zap.Int("failed", report.Failed),
			zap.Int("skipped", report.Skipped),
		)
	}
	return report, nil
}

func (d *Dispatcher) selectBatch(ctx context.Context) ([]QueueRecord, error) {
	if d.claimer != nil {
		now := d.now()
		records, err := d.claimer.ClaimEligible(ctx, d.cfg.MaxAttempts, d.cfg.BatchSize, now, now.Add(d.cfg.Lease))
		if err != nil {
			return nil, fmt.Errorf("failed to claim queue records: %w", err)
		}
		return records, nil
	}

	records, err := d.store.SelectEligible(ctx, d.cfg.MaxAttempts, d.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to select queue records: %w", err)
	}
	return records, nil
}

func (d *Dispatcher) processSequentially(ctx context.Context, records []QueueRecord, report *RoundReport) error {
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("round aborted: %w", err)
		}
		outcome, err := d.processRecord(ctx, record)
		if err != nil {
			return err
		}
		report.add(record.ID, outcome)
	}
	return nil
}

func (d *Dispatcher) processConcurrently(ctx context.Context, records []QueueRecord, report *RoundReport) error {
	outcomes := make([]*recordOutcome, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i, record := range records {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return nil
			}
			outcome, err := d.processRecord(gctx, record)
			if err != nil {
				return err
			}
			outcomes[i] = &outcome
			return nil
		})
	}
	err := g.Wait()

	for i, outcome := range outcomes {
		if outcome != nil {
			report.add(records[i].ID, *outcome)
		}
	}
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("round aborted: %w", err)
	}
	return nil
}

func (d *Dispatcher) processRecord(ctx context.Context, record QueueRecord) (recordOutcome, error) {
	log := d.log.With(zap.String("record_id", record.ID))

	msg, err := d.materializer.FromRecord(record)
	if err != nil {
		d.skipLog.Warn(record.ID, "skipping record that cannot be materialized", zap.String("record_id", record.ID), zap.Error(err))
		outcome := recordOutcome{skipped: true}
		d.inst.recordOutcome(ctx, outcome)
		return outcome, nil
	}

	sendErr := d.send(logger.With(ctx, log), record, msg)

	now := d.now()
	update := Update{
		Attempts:        record.Attempts + 1,
		LastAttemptTime: now,
	}
	if sendErr == nil {
		update.SentTime = &now
	}

	// The attempt happened, so its bookkeeping is written even if the round
	// is being cancelled.
	if err := d.store.UpdatePartial(context.WithoutCancel(ctx), record.ID, update); err != nil {
		return recordOutcome{}, fmt.Errorf("failed to update queue record %s: %w", record.ID, err)
	}

	outcome := recordOutcome{sent: sendErr == nil}
	switch {
	case outcome.sent:
		log.Debug("message sent", zap.Int("attempts", update.Attempts))
	case update.Attempts >= d.cfg.MaxAttempts:
		outcome.exhausted = true
		log.Warn("message exhausted its delivery attempts",
			zap.Int("attempts", update.Attempts),
			zap.Error(sendErr),
		)
	default:
		log.Warn("failed to send message",
			zap.Int("attempts", update.Attempts),
			zap.Error(sendErr),
		)
	}
	d.inst.recordOutcome(ctx, outcome)
	return outcome, nil
}

func (d *Dispatcher) send(ctx context.Context, record QueueRecord, msg Message) error {
	ctx, span := d.inst.tracer.Start(ctx, "mailqueue.send",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attrRecordID.String(record.ID),
			attrAttempt.Int(record.Attempts+1),
		),
	)
	defer span.End()

	if err := d.transport.Send(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
