package logger

import (
	"fmt"
	"strings"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/core/config"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	// Level specifies the minimum logging level.
	Level zapcore.Level `mapstructure:"level"`

	// Development enables console encoding and human-readable timestamps.
	// In production mode (false), JSON encoding is used.
	Development bool `mapstructure:"development"`

	// OutputPaths is a list of URLs or file paths to write logging output to.
	// If empty, defaults to stderr.
	OutputPaths []string `mapstructure:"output-paths"`

	// StacktraceLevel sets the minimum level at which stacktraces are captured.
	// Defaults to ErrorLevel.
	StacktraceLevel zapcore.Level `mapstructure:"stacktrace-level"`
}

func defaultConfig() Config {
	return Config{
		Level:           zapcore.InfoLevel,
		StacktraceLevel: zapcore.ErrorLevel,
	}
}

func (c Config) Validate() error {
	for i, path := range c.OutputPaths {
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("output-paths[%d] cannot be empty or whitespace", i)
		}
	}
	return nil
}

func newConfig(v *viper.Viper) (Config, error) {
	var raw struct {
		Level           string   `mapstructure:"level"`
		Development     bool     `mapstructure:"development"`
		OutputPaths     []string `mapstructure:"output-paths"`
		StacktraceLevel string   `mapstructure:"stacktrace-level"`
	}
	if err := config.Sub(v, "logger").Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("failed to load logger config: %w", err)
	}

	cfg := defaultConfig()
	cfg.Development = raw.Development
	cfg.OutputPaths = raw.OutputPaths

	if raw.Level != "" {
		level, err := zapcore.ParseLevel(raw.Level)
		if err != nil {
			return Config{}, fmt.Errorf("invalid log level '%s': %w", raw.Level, err)
		}
		cfg.Level = level
	}

	if raw.StacktraceLevel != "" {
		level, err := zapcore.ParseLevel(raw.StacktraceLevel)
		if err != nil {
			return Config{}, fmt.Errorf("invalid stacktrace level '%s': %w", raw.StacktraceLevel, err)
		}
		cfg.StacktraceLevel = level
	}

	return cfg, nil
}
