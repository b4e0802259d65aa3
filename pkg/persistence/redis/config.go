package redis

import (
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/config"
	"github.com/spf13/viper"
)

type Config struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// KeyPrefix namespaces every key written by the queue store.
	KeyPrefix string `mapstructure:"key-prefix"`

	PoolSize       int           `mapstructure:"pool-size"`
	DialTimeout    time.Duration `mapstructure:"dial-timeout"`
	ReadTimeout    time.Duration `mapstructure:"read-timeout"`
	WriteTimeout   time.Duration `mapstructure:"write-timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`
}

func newConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := config.Sub(v, "redis").Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to load redis config: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "mailqueue"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
}
