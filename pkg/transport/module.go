package transport

import (
	"fmt"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/transport/relay"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/transport/smtp"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type moduleOptions struct {
	config *Config
}

// Option configures the transport module.
type Option func(*moduleOptions)

// WithTransportConfig provides a static Config instead of loading it from viper.
func WithTransportConfig(cfg Config) Option {
	return func(o *moduleOptions) {
		o.config = &cfg
	}
}

// NewTransportModule provides the mailqueue.Transport selected by transport.kind.
func NewTransportModule(opts ...Option) fx.Option {
	o := &moduleOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return fx.Module("transport",
		fx.Provide(
			func(v *viper.Viper) (Config, error) {
				if o.config != nil {
					cfg := *o.config
					applyDefaults(&cfg)
					return cfg, nil
				}
				return newConfig(v)
			},
			New,
		),
	)
}

// New builds the transport for cfg.Kind.
func New(cfg Config, log *zap.Logger) (mailqueue.Transport, error) {
	log = log.With(zap.String("transport", string(cfg.Kind)))
	switch cfg.Kind {
	case KindSMTP:
		t, err := smtp.New(cfg.SMTP, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create smtp transport: %w", err)
		}
		return t, nil
	case KindRelay:
		t, err := relay.New(cfg.Relay, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create relay transport: %w", err)
		}
		return t, nil
	case KindLog:
		log.Warn("log transport is active, messages are not delivered")
		return NewLogTransport(log), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}
