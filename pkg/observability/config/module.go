package config

import (
	"fmt"

	coreconfig "github.com/Sokol111/ecommerce-mailqueue/pkg/core/config"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Overrides is applied on top of the observability key.
type Overrides struct {
	// Config, when set, is used instead of the observability key.
	Config         *Config
	DisableTracing bool
	DisableMetrics bool
}

// NewObservabilityConfigModule provides Config built from viper and o.
func NewObservabilityConfigModule(o Overrides) fx.Option {
	return fx.Options(
		fx.Supply(o),
		fx.Provide(provideConfig),
	)
}

func provideConfig(o Overrides, v *viper.Viper, log *zap.Logger) (Config, error) {
	cfg, err := load(o, v)
	if err != nil {
		return Config{}, err
	}

	if cfg.Metrics.Interval <= 0 {
		cfg.Metrics.Interval = DefaultMetricsInterval
	}
	if cfg.Tracing.SampleRatio <= 0 {
		cfg.Tracing.SampleRatio = DefaultSampleRatio
	}
	cfg.Tracing.Enabled = cfg.Tracing.Enabled && !o.DisableTracing
	cfg.Metrics.Enabled = cfg.Metrics.Enabled && !o.DisableMetrics

	log.Info("observability config loaded",
		zap.Bool("tracing", cfg.Tracing.Enabled),
		zap.Bool("metrics", cfg.Metrics.Enabled),
		zap.String("collector", cfg.OtelCollectorEndpoint),
	)
	return cfg, nil
}

func load(o Overrides, v *viper.Viper) (Config, error) {
	if o.Config != nil {
		return *o.Config, nil
	}
	var cfg Config
	if err := coreconfig.Sub(v, "observability").Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load observability config: %w", err)
	}
	return cfg, nil
}
