package config

import (
	"fmt"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Environment variable names
const (
	envAppEnv            = "APP_ENV"
	envAppServiceName    = "APP_SERVICE_NAME"
	envAppServiceVersion = "APP_SERVICE_VERSION"
)

const (
	defaultServiceName    = "mailqueue"
	defaultServiceVersion = "dev"
)

// AppConfig represents the core application metadata.
type AppConfig struct {
	// ServiceName is the name of the service
	ServiceName string
	// ServiceVersion is the version of the service
	ServiceVersion string
	// Environment is the deployment environment (e.g., "local", "staging", "pro")
	Environment string
}

type appConfigOptions struct {
	appConfig *AppConfig
}

// AppConfigOption is a functional option for configuring the app config module.
type AppConfigOption func(*appConfigOptions)

// WithAppConfig provides a static AppConfig instead of reading environment variables.
func WithAppConfig(cfg AppConfig) AppConfigOption {
	return func(opts *appConfigOptions) {
		opts.appConfig = &cfg
	}
}

// NewAppConfigModule creates a new fx module for application configuration.
//
// Required environment variables:
//   - APP_ENV: Environment name (e.g., "local", "staging", "pro")
//
// Optional environment variables:
//   - APP_SERVICE_NAME: Service name (default: mailqueue)
//   - APP_SERVICE_VERSION: Service version (default: dev)
func NewAppConfigModule(opts ...AppConfigOption) fx.Option {
	cfg := &appConfigOptions{}
	for _, opt := range opts {
		opt(cfg)
	}

	return fx.Module("appconfig",
		fx.Provide(func() (AppConfig, error) {
			if cfg.appConfig != nil {
				return *cfg.appConfig, nil
			}
			return newAppConfig()
		}),
		fx.Invoke(func(logger *zap.Logger, conf AppConfig) {
			logger.Info("Loaded application configuration",
				zap.String("service", conf.ServiceName),
				zap.String("version", conf.ServiceVersion),
				zap.String("environment", conf.Environment),
			)
		}),
	)
}

// newAppConfig creates a new AppConfig by reading environment variables.
func newAppConfig() (AppConfig, error) {
	env := os.Getenv(envAppEnv)
	if env == "" {
		return AppConfig{}, fmt.Errorf("%s is required", envAppEnv)
	}

	serviceName := os.Getenv(envAppServiceName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	serviceVersion := os.Getenv(envAppServiceVersion)
	if serviceVersion == "" {
		serviceVersion = defaultServiceVersion
	}

	return AppConfig{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    env,
	}, nil
}
