package transport

import (
	"fmt"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/config"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/transport/relay"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/transport/smtp"
	"github.com/spf13/viper"
)

type Kind string

const (
	KindSMTP  Kind = "smtp"
	KindRelay Kind = "relay"
	KindLog   Kind = "log"
)

type Config struct {
	Kind  Kind         `mapstructure:"kind"`
	SMTP  smtp.Config  `mapstructure:"smtp"`
	Relay relay.Config `mapstructure:"relay"`
}

func newConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := config.Sub(v, "transport").Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to load transport config: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Kind == "" {
		cfg.Kind = KindLog
	}
}
