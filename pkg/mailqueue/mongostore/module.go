package mongostore

import (
	"context"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/persistence/mongo"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewMongoStoreModule provides the Mongo-backed queue store. It needs the
// connection from mongo.NewMongoModule and creates indexes on start.
func NewMongoStoreModule() fx.Option {
	return fx.Provide(
		fx.Annotate(
			provideStore,
			fx.As(new(mailqueue.Store)),
			fx.As(new(mailqueue.Repository)),
		),
	)
}

func provideStore(lc fx.Lifecycle, log *zap.Logger, m mongo.Mongo) *Store {
	s := New(m.Collection(CollectionName), m.QueryTimeout())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := s.EnsureIndexes(ctx); err != nil {
				return err
			}
			log.Info("mongo queue store ready", zap.String("collection", CollectionName))
			return nil
		},
	})
	return s
}
