package core

import (
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/config"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/health"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/logger"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/worker"
	"go.uber.org/fx"
)

// coreOptions holds internal configuration for the core module.
type coreOptions struct {
	appConfig     *config.AppConfig
	loggerConfig  *logger.Config
	viperOptions  []config.ViperOption
	disableDotEnv bool
}

// Option is a functional option for configuring the core module.
type Option func(*coreOptions)

// WithAppConfig provides a static AppConfig (useful for tests).
// When set, the AppConfig will not be loaded from environment variables.
func WithAppConfig(cfg config.AppConfig) Option {
	return func(opts *coreOptions) {
		opts.appConfig = &cfg
	}
}

// WithLoggerConfig provides a static logger Config (useful for tests).
func WithLoggerConfig(cfg logger.Config) Option {
	return func(opts *coreOptions) {
		opts.loggerConfig = &cfg
	}
}

// WithViperOptions forwards options to the viper module.
func WithViperOptions(opts ...config.ViperOption) Option {
	return func(o *coreOptions) {
		o.viperOptions = append(o.viperOptions, opts...)
	}
}

// WithoutEnvFile disables loading of .env file.
func WithoutEnvFile() Option {
	return func(opts *coreOptions) {
		opts.disableDotEnv = true
	}
}

// NewCoreModule provides core functionality: config, logger, health and workers.
//
// Example usage:
//
//	// Production - loads config from environment/viper
//	core.NewCoreModule()
//
//	// Testing - with static configs
//	core.NewCoreModule(
//	    core.WithAppConfig(config.AppConfig{...}),
//	    core.WithLoggerConfig(logger.Config{...}),
//	    core.WithViperOptions(config.WithoutConfigFile()),
//	    core.WithoutEnvFile(),
//	)
func NewCoreModule(opts ...Option) fx.Option {
	cfg := &coreOptions{}
	for _, opt := range opts {
		opt(cfg)
	}

	return fx.Options(
		fx.StartTimeout(time.Minute),
		fx.StopTimeout(time.Minute),

		dotEnvModule(cfg),
		config.NewViperModule(cfg.viperOptions...),
		appConfigModule(cfg),
		loggerModule(cfg),
		health.NewReadinessModule(),
		worker.NewWorkersModule(),
	)
}

func dotEnvModule(cfg *coreOptions) fx.Option {
	if cfg.disableDotEnv {
		return fx.Options()
	}
	return config.NewDotEnvModule()
}

func appConfigModule(cfg *coreOptions) fx.Option {
	if cfg.appConfig != nil {
		return config.NewAppConfigModule(config.WithAppConfig(*cfg.appConfig))
	}
	return config.NewAppConfigModule()
}

func loggerModule(cfg *coreOptions) fx.Option {
	if cfg.loggerConfig != nil {
		return logger.NewZapLoggingModule(logger.WithLoggerConfig(*cfg.loggerConfig))
	}
	return logger.NewZapLoggingModule()
}
