package mailqueue

import (
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/config"
	"github.com/spf13/viper"
)

const (
	DefaultBatchSize   = 10
	DefaultMaxAttempts = 3
	DefaultInterval    = time.Minute
)

type Config struct {
	// BatchSize is the maximum number of records selected per round.
	BatchSize int `mapstructure:"batch-size"`
	// MaxAttempts is the attempt ceiling after which a record is exhausted.
	MaxAttempts int `mapstructure:"max-attempts"`
	// Concurrency is the number of sends in flight within a round.
	Concurrency int `mapstructure:"concurrency"`
	// Interval is the period between rounds of the Runner.
	Interval time.Duration `mapstructure:"interval"`
	// Lease enables claim-based selection when positive.
	Lease time.Duration `mapstructure:"lease"`
	// StopOnFailure makes the Runner exit on the first hard round error.
	StopOnFailure bool `mapstructure:"stop-on-failure"`
	// DefaultFrom is the sender used for payloads without one.
	DefaultFrom string `mapstructure:"default-from"`
}

// DefaultConfig returns the configuration used for unset options.
func DefaultConfig() Config {
	return Config{
		BatchSize:   DefaultBatchSize,
		MaxAttempts: DefaultMaxAttempts,
		Concurrency: 1,
		Interval:    DefaultInterval,
	}
}

func (c Config) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch-size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	case c.MaxAttempts <= 0:
		return fmt.Errorf("%w: max-attempts must be positive, got %d", ErrInvalidConfig, c.MaxAttempts)
	case c.Concurrency < 1:
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidConfig, c.Concurrency)
	case c.Interval < 0:
		return fmt.Errorf("%w: interval cannot be negative", ErrInvalidConfig)
	case c.Lease < 0:
		return fmt.Errorf("%w: lease cannot be negative", ErrInvalidConfig)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
}

func newConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := config.Sub(v, "mailqueue").Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to load mailqueue config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
