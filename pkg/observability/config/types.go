package config

import "time"

const (
	DefaultMetricsInterval = 10 * time.Second
	// DefaultSampleRatio samples every round.
	DefaultSampleRatio = 1.0

	DefaultShutdownTimeout      = 5 * time.Second
	DefaultRuntimeStatsInterval = time.Second

	// Readiness component names.
	TracingComponentName = "tracing"
	MetricsComponentName = "metrics"
)

// Config is read from the observability key. With both signals disabled the
// dispatcher records to noop providers.
type Config struct {
	OtelCollectorEndpoint string        `mapstructure:"otel-collector-endpoint"`
	Tracing               TracingConfig `mapstructure:"tracing"`
	Metrics               MetricsConfig `mapstructure:"metrics"`
}

// TracingConfig controls the mailqueue.process and mailqueue.send spans.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// SampleRatio is the fraction of root spans that are sampled.
	SampleRatio float64 `mapstructure:"sample-ratio"`
}

// MetricsConfig controls the round and outcome instruments.
type MetricsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	// Runtime enables Go runtime instrumentation.
	Runtime bool `mapstructure:"runtime"`
}
