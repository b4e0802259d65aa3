package logger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

type moduleOptions struct {
	config *Config
}

// Option is a functional option for configuring the logging module.
type Option func(*moduleOptions)

// WithLoggerConfig provides a static logger Config.
// When set, the configuration is not loaded from viper.
func WithLoggerConfig(cfg Config) Option {
	return func(opts *moduleOptions) {
		opts.config = &cfg
	}
}

// NewZapLoggingModule creates a new fx module for zap logger initialization.
// It provides a configured *zap.Logger and routes fx events through it.
func NewZapLoggingModule(opts ...Option) fx.Option {
	o := &moduleOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return fx.Options(
		fx.Provide(
			func(v *viper.Viper) (Config, error) {
				if o.config != nil {
					return *o.config, nil
				}
				return newConfig(v)
			},
			provideLogger,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
}

func provideLogger(lc fx.Lifecycle, conf Config) (*zap.Logger, error) {
	logger, err := newLogger(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return syncLogger(logger)
		},
	})

	return logger, nil
}

// syncLogger flushes the logger, ignoring the errors stderr and stdout
// return on terminals that do not support fsync.
func syncLogger(logger *zap.Logger) error {
	err := logger.Sync()
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && (errors.Is(pathErr.Err, syscall.EINVAL) || errors.Is(pathErr.Err, syscall.ENOTTY)) {
		return nil
	}
	return err
}
