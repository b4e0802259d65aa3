package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewDotEnvModule_LoadsVariables(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MAILQUEUE_DOTENV_PROBE=loaded\n"), 0644))
	t.Cleanup(func() { _ = os.Unsetenv("MAILQUEUE_DOTENV_PROBE") })

	// Act
	NewDotEnvModule(WithDotEnvPath(path))

	// Assert
	assert.Equal(t, "loaded", os.Getenv("MAILQUEUE_DOTENV_PROBE"))
}

func TestLogDotEnv(t *testing.T) {
	t.Run("missing file is logged at debug", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		cfg := &dotenvConfig{path: filepath.Join(t.TempDir(), "absent.env")}
		cfg.loadErr = loadErrFor(cfg.path)

		logDotEnv(zap.New(core), cfg)

		require.Equal(t, 1, logs.Len())
		assert.Equal(t, zapcore.DebugLevel, logs.All()[0].Level)
	})

	t.Run("loaded file is logged at info", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)

		logDotEnv(zap.New(core), &dotenvConfig{path: ".env"})

		require.Equal(t, 1, logs.Len())
		assert.Equal(t, zapcore.InfoLevel, logs.All()[0].Level)
	})
}

func loadErrFor(path string) error {
	_, err := os.Open(path)
	return err
}
