package mailqueue

import (
	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/worker"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type moduleOptions struct {
	config       *Config
	materializer Materializer
}

// ModuleOption configures the mailqueue module.
type ModuleOption func(*moduleOptions)

// WithConfig provides a static Config instead of loading it from viper.
func WithConfig(cfg Config) ModuleOption {
	return func(o *moduleOptions) {
		o.config = &cfg
	}
}

// WithMaterializer replaces the default JSON materializer.
func WithMaterializer(m Materializer) ModuleOption {
	return func(o *moduleOptions) {
		o.materializer = m
	}
}

type dispatcherParams struct {
	fx.In

	Config         Config
	Store          Store
	Materializer   Materializer
	Transport      Transport
	Log            *zap.Logger
	MeterProvider  metric.MeterProvider `optional:"true"`
	TracerProvider trace.TracerProvider `optional:"true"`
}

// NewMailQueueModule provides the Config, Materializer and Dispatcher.
// A Store and a Transport must be provided by other modules.
func NewMailQueueModule(opts ...ModuleOption) fx.Option {
	o := &moduleOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return fx.Module("mailqueue",
		fx.Provide(
			func(v *viper.Viper) (Config, error) {
				if o.config != nil {
					return *o.config, o.config.Validate()
				}
				return newConfig(v)
			},
			func(cfg Config) Materializer {
				if o.materializer != nil {
					return o.materializer
				}
				return JSONMaterializer{DefaultFrom: cfg.DefaultFrom}
			},
			provideDispatcher,
		),
	)
}

// NewRunnerModule registers the periodic Runner as a background worker.
func NewRunnerModule() fx.Option {
	return fx.Options(
		fx.Provide(
			NewRunner,
			worker.Register[*Runner]("mailqueue-runner", worker.WithReady(), worker.WithShutdown()),
		),
	)
}

func provideDispatcher(p dispatcherParams) (*Dispatcher, error) {
	opts := []Option{WithLogger(p.Log)}
	if p.MeterProvider != nil {
		opts = append(opts, WithMeterProvider(p.MeterProvider))
	}
	if p.TracerProvider != nil {
		opts = append(opts, WithTracerProvider(p.TracerProvider))
	}
	return NewDispatcher(p.Config, p.Store, p.Materializer, p.Transport, opts...)
}
