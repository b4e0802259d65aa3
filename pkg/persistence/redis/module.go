package redis

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

// Option configures the redis module.
type Option func(*moduleOptions)

// WithRedisConfig provides a static Config instead of loading it from viper.
func WithRedisConfig(cfg Config) Option {
	return func(o *moduleOptions) {
		o.config = &cfg
	}
}

// NewRedisModule provides a lifecycle-managed Redis client.
func NewRedisModule(opts ...Option) fx.Option {
	o := &moduleOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return fx.Module("redis",
		fx.Provide(
			func(v *viper.Viper) (Config, error) {
				if o.config != nil {
					cfg := *o.config
					applyDefaults(&cfg)
					return cfg, nil
				}
				return newConfig(v)
			},
			provideRedis,
		),
	)
}

func provideRedis(lc fx.Lifecycle, log *zap.Logger, conf Config, readiness health.ComponentManager) Redis {
	c := newClient(log, conf)

	markReady := readiness.AddComponent("redis")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := c.connect(ctx); err != nil {
				return err
			}
			markReady()
			return nil
		},
		OnStop: func(context.Context) error {
			return c.close()
		},
	})

	return c
}
