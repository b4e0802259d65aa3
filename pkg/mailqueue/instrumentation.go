package mailqueue

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"

const (
	attrRecordID = attribute.Key("mailqueue.record_id")
	attrAttempt  = attribute.Key("mailqueue.attempt")
	attrOutcome  = attribute.Key("mailqueue.outcome")
	attrSelected = attribute.Key("mailqueue.selected")
)

type instruments struct {
	tracer    trace.Tracer
	rounds    metric.Int64Counter
	sent      metric.Int64Counter
	failed    metric.Int64Counter
	skipped   metric.Int64Counter
	exhausted metric.Int64Counter
	duration  metric.Float64Histogram
}

func newInstruments(mp metric.MeterProvider, tp trace.TracerProvider) (*instruments, error) {
	meter := mp.Meter(instrumentationName)
	inst := &instruments{tracer: tp.Tracer(instrumentationName)}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&inst.rounds, "mailqueue.rounds", "Processing rounds by outcome"},
		{&inst.sent, "mailqueue.records.sent", "Records delivered"},
		{&inst.failed, "mailqueue.records.failed", "Delivery attempts that failed"},
		{&inst.skipped, "mailqueue.records.skipped", "Records skipped because they could not be materialized"},
		{&inst.exhausted, "mailqueue.records.exhausted", "Records that reached the attempt ceiling"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	duration, err := meter.Float64Histogram("mailqueue.round.duration",
		metric.WithDescription("Duration of processing rounds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create round duration histogram: %w", err)
	}
	inst.duration = duration

	return inst, nil
}

func (i *instruments) recordOutcome(ctx context.Context, o recordOutcome) {
	switch {
	case o.skipped:
		i.skipped.Add(ctx, 1)
	case o.sent:
		i.sent.Add(ctx, 1)
	default:
		i.failed.Add(ctx, 1)
	}
	if o.exhausted {
		i.exhausted.Add(ctx, 1)
	}
}

func (i *instruments) recordRound(ctx context.Context, report RoundReport, err error, elapsed time.Duration) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case !report.OK():
		outcome = "failed"
	}
	attrs := metric.WithAttributes(attrOutcome.String(outcome))
	i.rounds.Add(ctx, 1, attrs)
	i.duration.Record(ctx, elapsed.Seconds(), attrs)
}
