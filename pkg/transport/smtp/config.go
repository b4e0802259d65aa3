package smtp

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultPort            = 587
	defaultRetryCount      = 2
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
)

type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// SSL dials with implicit TLS, usually on port 465.
	SSL                bool   `mapstructure:"ssl"`
	InsecureSkipVerify bool   `mapstructure:"insecure-skip-verify"`
	LocalName          string `mapstructure:"local-name"`
	// MessageIDDomain is the right-hand side of generated Message-ID headers.
	// The sender's domain is used when empty.
	MessageIDDomain string `mapstructure:"message-id-domain"`

	// RetryCount is the number of extra connection attempts per send.
	// Zero selects the default, a negative value disables retries.
	RetryCount      int           `mapstructure:"retry-count"`
	InitialInterval time.Duration `mapstructure:"initial-interval"`
	MaxInterval     time.Duration `mapstructure:"max-interval"`

	DKIM DKIMConfig `mapstructure:"dkim"`
}

type DKIMConfig struct {
	// Domain overrides the signing domain taken from the sender address.
	Domain   string `mapstructure:"domain"`
	Selector string `mapstructure:"selector"`
	KeyPath  string `mapstructure:"key-path"`
	// PrivateKey is an inline PEM key, used instead of KeyPath.
	PrivateKey string `mapstructure:"private-key"`
}

func (c DKIMConfig) enabled() bool {
	return c.Selector != "" || c.KeyPath != "" || c.PrivateKey != "" || c.Domain != ""
}

func (c Config) validate() error {
	if c.Host == "" {
		return errors.New("smtp host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("smtp port %d is out of range", c.Port)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.RetryCount == 0 {
		cfg.RetryCount = defaultRetryCount
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = defaultMaxInterval
	}
}
