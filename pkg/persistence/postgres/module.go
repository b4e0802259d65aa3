package postgres

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

// Option configures the postgres module.
type Option func(*moduleOptions)

// WithPostgresConfig provides a static Config instead of loading it from viper.
func WithPostgresConfig(cfg Config) Option {
	return func(o *moduleOptions) {
		o.config = &cfg
	}
}

// NewPostgresModule provides a lifecycle-managed PostgreSQL pool.
func NewPostgresModule(opts ...Option) fx.Option {
	o := &moduleOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return fx.Module("postgres",
		fx.Provide(
			func(v *viper.Viper) (Config, error) {
				if o.config != nil {
					cfg := *o.config
					applyDefaults(&cfg)
					return cfg, nil
				}
				return newConfig(v)
			},
			providePostgres,
		),
	)
}

func providePostgres(lc fx.Lifecycle, log *zap.Logger, conf Config, readiness health.ComponentManager) (Postgres, error) {
	p, err := newPostgres(log, conf)
	if err != nil {
		return nil, err
	}

	markReady := readiness.AddComponent("postgres")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := p.connect(ctx); err != nil {
				return err
			}
			markReady()
			return nil
		},
		OnStop: func(context.Context) error {
			return p.close()
		},
	})

	return p, nil
}
