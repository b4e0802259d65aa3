// Package observability wires OpenTelemetry for the dispatcher. The round and
// send spans and the outcome counters in pkg/mailqueue go to whatever
// providers this module puts in the graph: OTLP exporters when the
// observability key enables them, noop providers otherwise.
//
// Commands that never run a round (enqueue, inspect) turn both signals off:
//
//	observability.NewObservabilityModule(
//	    observability.WithoutTracing(),
//	    observability.WithoutMetrics(),
//	)
package observability

import (
	"github.com/Sokol111/ecommerce-mailqueue/pkg/observability/config"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/observability/metrics"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/observability/tracing"
	"go.uber.org/fx"
)

// Option adjusts the config read from the observability key.
type Option func(*config.Overrides)

// WithConfig replaces the observability key with a static Config.
func WithConfig(cfg config.Config) Option {
	return func(o *config.Overrides) {
		o.Config = &cfg
	}
}

// WithoutTracing keeps the noop tracer provider even if tracing is enabled.
func WithoutTracing() Option {
	return func(o *config.Overrides) {
		o.DisableTracing = true
	}
}

// WithoutMetrics keeps the noop meter provider even if metrics are enabled.
func WithoutMetrics() Option {
	return func(o *config.Overrides) {
		o.DisableMetrics = true
	}
}

// NewObservabilityModule provides the observability Config and both providers.
func NewObservabilityModule(opts ...Option) fx.Option {
	var overrides config.Overrides
	for _, opt := range opts {
		opt(&overrides)
	}

	return fx.Options(
		config.NewObservabilityConfigModule(overrides),
		tracing.NewTracingModule(),
		metrics.NewMetricsModule(),
	)
}
