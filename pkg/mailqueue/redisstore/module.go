package redisstore

import (
	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/persistence/redis"
	"go.uber.org/fx"
)

// NewRedisStoreModule provides the Redis-backed queue store. It needs the
// client from redis.NewRedisModule.
func NewRedisStoreModule() fx.Option {
	return fx.Provide(
		fx.Annotate(
			func(r redis.Redis) *Store {
				return New(r.Client(), r.KeyPrefix())
			},
			fx.As(new(mailqueue.Store)),
			fx.As(new(mailqueue.Repository)),
		),
	)
}
