package persistence

import (
	"fmt"
	"strings"

	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue/memstore"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue/mongostore"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue/pgstore"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/mailqueue/redisstore"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/persistence/mongo"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/persistence/postgres"
	"github.com/Sokol111/ecommerce-mailqueue/pkg/persistence/redis"
	"go.uber.org/fx"
)

// Backend names a queue store implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendMongo    Backend = "mongo"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

// Backends lists every supported backend.
var Backends = []Backend{BackendMongo, BackendPostgres, BackendRedis, BackendMemory}

// ParseBackend resolves a backend name, case-insensitively.
func ParseBackend(s string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Backends {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown store backend %q", s)
}

// persistenceOptions holds internal configuration for the persistence module.
type persistenceOptions struct {
	backend        Backend
	mongoConfig    *mongo.Config
	postgresConfig *postgres.Config
	redisConfig    *redis.Config
	pgStoreOptions []pgstore.Option
}

// Option is a functional option for configuring the persistence module.
type Option func(*persistenceOptions)

// WithBackend selects the queue store. Mongo is used when unset.
func WithBackend(b Backend) Option {
	return func(opts *persistenceOptions) {
		opts.backend = b
	}
}

// WithMongoConfig provides a static Mongo Config (useful for tests).
// When set, the Mongo configuration will not be loaded from viper.
func WithMongoConfig(cfg mongo.Config) Option {
	return func(opts *persistenceOptions) {
		opts.mongoConfig = &cfg
	}
}

// WithPostgresConfig provides a static Postgres Config.
func WithPostgresConfig(cfg postgres.Config) Option {
	return func(opts *persistenceOptions) {
		opts.postgresConfig = &cfg
	}
}

// WithRedisConfig provides a static Redis Config.
func WithRedisConfig(cfg redis.Config) Option {
	return func(opts *persistenceOptions) {
		opts.redisConfig = &cfg
	}
}

// WithPgStoreOptions forwards options to the Postgres queue store.
func WithPgStoreOptions(opts ...pgstore.Option) Option {
	return func(o *persistenceOptions) {
		o.pgStoreOptions = append(o.pgStoreOptions, opts...)
	}
}

// NewPersistenceModule provides the connection and the queue store of the
// selected backend as mailqueue.Store and mailqueue.Repository.
//
// Example usage:
//
//	// Production - Mongo, config loaded from viper
//	persistence.NewPersistenceModule()
//
//	// Postgres with a static config
//	persistence.NewPersistenceModule(
//	    persistence.WithBackend(persistence.BackendPostgres),
//	    persistence.WithPostgresConfig(postgres.Config{...}),
//	)
func NewPersistenceModule(opts ...Option) fx.Option {
	cfg := &persistenceOptions{backend: BackendMongo}
	for _, opt := range opts {
		opt(cfg)
	}

	switch cfg.backend {
	case BackendMongo:
		return fx.Options(mongoModule(cfg), mongostore.NewMongoStoreModule())
	case BackendPostgres:
		return fx.Options(postgresModule(cfg), pgstore.NewPgStoreModule(cfg.pgStoreOptions...))
	case BackendRedis:
		return fx.Options(redisModule(cfg), redisstore.NewRedisStoreModule())
	case BackendMemory:
		return memstore.NewMemStoreModule()
	default:
		return fx.Error(fmt.Errorf("unknown store backend %q", cfg.backend))
	}
}

func mongoModule(cfg *persistenceOptions) fx.Option {
	if cfg.mongoConfig != nil {
		return mongo.NewMongoModule(mongo.WithMongoConfig(*cfg.mongoConfig))
	}
	return mongo.NewMongoModule()
}

func postgresModule(cfg *persistenceOptions) fx.Option {
	if cfg.postgresConfig != nil {
		return postgres.NewPostgresModule(postgres.WithPostgresConfig(*cfg.postgresConfig))
	}
	return postgres.NewPostgresModule()
}

func redisModule(cfg *persistenceOptions) fx.Option {
	if cfg.redisConfig != nil {
		return redis.NewRedisModule(redis.WithRedisConfig(*cfg.redisConfig))
	}
	return redis.NewRedisModule()
}
