package memstore

import (
	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue"
	"go.uber.org/fx"
)

// NewMemStoreModule provides an empty in-memory store as the queue store.
func NewMemStoreModule() fx.Option {
	return fx.Provide(
		fx.Annotate(
			func() *Store { return New() },
			fx.As(new(mailqueue.Store)),
			fx.As(new(mailqueue.Repository)),
		),
	)
}
