package config

import (
	"context"
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// dotenvConfig holds configuration for the dotenv module.
type dotenvConfig struct {
	path    string
	loadErr error
}

// DotEnvOption is a functional option for configuring the dotenv module.
type DotEnvOption func(*dotenvConfig)

// WithDotEnvPath sets a custom path to the .env file.
func WithDotEnvPath(path string) DotEnvOption {
	return func(cfg *dotenvConfig) {
		cfg.path = path
	}
}

// NewDotEnvModule loads environment variables from a .env file.
// By default, loads from ".env" in the current directory.
// Loading happens synchronously when the module is created, so that
// variables are visible to every provider constructed afterwards.
func NewDotEnvModule(opts ...DotEnvOption) fx.Option {
	cfg := &dotenvConfig{path: ".env"}
	for _, opt := range opts {
		opt(cfg)
	}

	cfg.loadErr = godotenv.Load(cfg.path)

	return fx.Module("dotenv",
		fx.Invoke(func(lc fx.Lifecycle, logger *zap.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					logDotEnv(logger, cfg)
					return nil
				},
			})
		}),
	)
}

func logDotEnv(logger *zap.Logger, cfg *dotenvConfig) {
	switch {
	case cfg.loadErr == nil:
		logger.Info("Loaded .env file", zap.String("path", cfg.path))
	case errors.Is(cfg.loadErr, fs.ErrNotExist):
		logger.Debug("No .env file loaded", zap.String("path", cfg.path))
	default:
		logger.Warn("Failed to parse .env file", zap.String("path", cfg.path), zap.Error(cfg.loadErr))
	}
}
