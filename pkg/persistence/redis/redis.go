package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis gives stores access to the client and its key namespace.
type Redis interface {
	Client() *goredis.Client
	KeyPrefix() string
}

type client struct {
	rdb  *goredis.Client
	conf Config
	log  *zap.Logger
}

func newClient(log *zap.Logger, conf Config) *client {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         conf.Addr,
		Username:     conf.Username,
		Password:     conf.Password,
		DB:           conf.DB,
		PoolSize:     conf.PoolSize,
		DialTimeout:  conf.DialTimeout,
		ReadTimeout:  conf.ReadTimeout,
		WriteTimeout: conf.WriteTimeout,
	})
	return &client{rdb: rdb, conf: conf, log: log}
}

// connect pings the server until it answers or ConnectTimeout elapses.
func (c *client) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.conf.ConnectTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 5 * time.Second
	err := backoff.RetryNotify(
		func() error { return c.rdb.Ping(ctx).Err() },
		backoff.WithContext(b, ctx),
		func(err error, next time.Duration) {
			c.log.Warn("redis not reachable, retrying", zap.Error(err), zap.Duration("retry-in", next))
		},
	)
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	c.log.Info("connected to redis",
		zap.String("addr", c.conf.Addr),
		zap.Int("db", c.conf.DB),
		zap.String("key-prefix", c.conf.KeyPrefix),
	)
	return nil
}

func (c *client) close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	c.log.Info("disconnected from redis")
	return nil
}

func (c *client) Client() *goredis.Client {
	return c.rdb
}

func (c *client) KeyPrefix() string {
	return c.conf.KeyPrefix
}
