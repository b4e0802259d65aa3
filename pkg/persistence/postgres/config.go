package postgres

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/config"
	"github.com/spf13/viper"
)

type Config struct {
	// DSN overrides the individual connection fields when set.
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl-mode"`

	MaxConns        int32         `mapstructure:"max-conns"`
	MinConns        int32         `mapstructure:"min-conns"`
	MaxConnLifetime time.Duration `mapstructure:"max-conn-lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max-conn-idle-time"`
	ConnectTimeout  time.Duration `mapstructure:"connect-timeout"`
	QueryTimeout    time.Duration `mapstructure:"query-timeout"`
}

func newConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := config.Sub(v, "postgres").Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to load postgres config: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 10
	}
	if cfg.MinConns == 0 {
		cfg.MinConns = 1
	}
	if cfg.MaxConnLifetime == 0 {
		cfg.MaxConnLifetime = 30 * time.Minute
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
}

func (c Config) Validate() error {
	if c.DSN != "" {
		return nil
	}
	if c.Host == "" || c.Database == "" || c.User == "" {
		return errors.New("invalid postgres configuration: host, user and database are required")
	}
	return nil
}

// ConnString returns the DSN, or builds a URL from the individual fields.
func (c Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}
