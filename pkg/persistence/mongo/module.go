package mongo

import (
	"context"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/health"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type moduleOptions struct {
	config *Config
}

// Option configures the mongo module.
type Option func(*moduleOptions)

// WithMongoConfig provides a static Config instead of loading it from viper.
func WithMongoConfig(cfg Config) Option {
	return func(o *moduleOptions) {
		o.config = &cfg
	}
}

// NewMongoModule provides a lifecycle-managed Mongo connection.
func NewMongoModule(opts ...Option) fx.Option {
	o := &moduleOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return fx.Module("mongo",
		fx.Provide(
			func(v *viper.Viper) (Config, error) {
				if o.config != nil {
					cfg := *o.config
					applyDefaults(&cfg)
					return cfg, nil
				}
				return newConfig(v)
			},
			provideMongo,
		),
	)
}

func provideMongo(lc fx.Lifecycle, log *zap.Logger, conf Config, readiness health.ComponentManager) (Mongo, error) {
	m, err := newMongo(log, conf)
	if err != nil {
		return nil, err
	}

	markReady := readiness.AddComponent("mongo")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := m.connect(ctx); err != nil {
				return err
			}
			markReady()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return m.disconnect(ctx)
		},
	})

	return m, nil
}
