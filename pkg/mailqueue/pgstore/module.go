package pgstore

import (
	"context"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/persistence/postgres"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewPgStoreModule provides the PostgreSQL-backed queue store. It needs the
// pool from postgres.NewPostgresModule and refuses to start without the table.
func NewPgStoreModule(opts ...Option) fx.Option {
	return fx.Provide(
		fx.Annotate(
			func(lc fx.Lifecycle, log *zap.Logger, pg postgres.Postgres) *Store {
				return provideStore(lc, log, pg, opts...)
			},
			fx.As(new(mailqueue.Store)),
			fx.As(new(mailqueue.Repository)),
		),
	)
}

func provideStore(lc fx.Lifecycle, log *zap.Logger, pg postgres.Postgres, opts ...Option) *Store {
	opts = append([]Option{WithQueryTimeout(pg.QueryTimeout())}, opts...)
	s := New(pg.DB(), opts...)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := s.CheckTable(ctx); err != nil {
				return err
			}
			log.Info("postgres queue store ready", zap.String("table", s.table))
			return nil
		},
	})
	return s
}
