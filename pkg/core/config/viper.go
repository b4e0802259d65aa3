package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const envConfigFile = "CONFIG_FILE"

// source describes where viper reads its settings from.
type source struct {
	path    string
	content []byte
	format  string
}

// ViperOption is a functional option for configuring the Viper module.
type ViperOption func(*source)

// WithConfigPath sets a direct path to the configuration file.
// Overrides the CONFIG_FILE environment variable.
func WithConfigPath(path string) ViperOption {
	return func(s *source) {
		s.path = path
	}
}

// WithConfigContent reads settings from the given document instead of a file.
// format is a viper config type such as "yaml" or "json".
func WithConfigContent(format string, content string) ViperOption {
	return func(s *source) {
		s.format = format
		s.content = []byte(content)
	}
}

// WithoutConfigFile disables loading of any config file.
// Viper is still available for DI, backed by environment variables only.
func WithoutConfigFile() ViperOption {
	return func(s *source) {
		s.path = ""
		s.content = nil
	}
}

// NewViperModule creates an fx module for Viper configuration.
// By default the config path is taken from CONFIG_FILE; when it is unset an
// empty, environment-backed instance is provided.
func NewViperModule(opts ...ViperOption) fx.Option {
	src := &source{path: os.Getenv(envConfigFile)}
	for _, opt := range opts {
		opt(src)
	}

	return fx.Module("viper",
		fx.Provide(func() (*viper.Viper, error) {
			return newViper(*src)
		}),
		fx.Invoke(logViperConfig),
	)
}

func logViperConfig(logger *zap.Logger, v *viper.Viper) {
	if v.ConfigFileUsed() == "" && len(v.AllSettings()) == 0 {
		logger.Info("No config file specified, using environment only")
		return
	}
	logger.Info("Configuration loaded successfully",
		zap.String("configFile", v.ConfigFileUsed()),
		zap.Int("settingsCount", len(v.AllSettings())),
	)
}

func newViper(src source) (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	switch {
	case len(src.content) > 0:
		v.SetConfigType(src.format)
		if err := v.ReadConfig(bytes.NewReader(src.content)); err != nil {
			return nil, fmt.Errorf("failed to read inline config: %w", err)
		}
	case src.path != "":
		v.SetConfigFile(src.path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file [%s]: %w", src.path, err)
		}
	}

	return v, nil
}

// Sub returns the sub-tree for key, or an empty instance when the key is absent,
// so that callers can always Unmarshal and then apply their defaults.
func Sub(v *viper.Viper, key string) *viper.Viper {
	if sub := v.Sub(key); sub != nil {
		return sub
	}
	return viper.New()
}
