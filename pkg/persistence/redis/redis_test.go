package redis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/testutil/container"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := newConfig(viper.New())

		require.NoError(t, err)
		assert.Equal(t, "localhost:6379", cfg.Addr)
		assert.Equal(t, "mailqueue", cfg.KeyPrefix)
		assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	})

	t.Run("from yaml", func(t *testing.T) {
		v := viper.New()
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(strings.NewReader("redis:\n  addr: cache:6380\n  db: 2\n  key-prefix: mq\n")))

		cfg, err := newConfig(v)

		require.NoError(t, err)
		assert.Equal(t, "cache:6380", cfg.Addr)
		assert.Equal(t, 2, cfg.DB)
		assert.Equal(t, "mq", cfg.KeyPrefix)
	})
}

func TestClient_ConnectTimesOut(t *testing.T) {
	cfg := Config{Addr: "127.0.0.1:1", ConnectTimeout: 200 * time.Millisecond}
	applyDefaults(&cfg)
	c := newClient(zap.NewNop(), cfg)
	defer func() { _ = c.close() }()

	err := c.connect(context.Background())

	assert.ErrorContains(t, err, "failed to ping redis")
}

func TestClient_Connect(t *testing.T) {
	redisC := container.Redis(t)
	cfg := Config{Addr: redisC.Addr}
	applyDefaults(&cfg)
	c := newClient(zap.NewNop(), cfg)

	require.NoError(t, c.connect(context.Background()))
	assert.Equal(t, "mailqueue", c.KeyPrefix())
	require.NoError(t, c.close())
}
