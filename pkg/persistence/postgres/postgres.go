package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DriverName is the database/sql driver registered by pgx.
const DriverName = "pgx"

// Postgres gives stores access to the connection pool.
type Postgres interface {
	DB() *sqlx.DB
	// QueryTimeout is the deadline applied to a single statement.
	QueryTimeout() time.Duration
}

type postgres struct {
	pool *pgxpool.Pool
	db   *sqlx.DB
	conf Config
	log  *zap.Logger
}

func newPostgres(log *zap.Logger, conf Config) (*postgres, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(conf.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres connection string: %w", err)
	}
	poolConfig.MaxConns = conf.MaxConns
	poolConfig.MinConns = conf.MinConns
	poolConfig.MaxConnLifetime = conf.MaxConnLifetime
	poolConfig.MaxConnIdleTime = conf.MaxConnIdleTime

	// The pool dials lazily, so creating it does not need the server.
	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	return &postgres{
		pool: pool,
		db:   sqlx.NewDb(stdlib.OpenDBFromPool(pool), DriverName),
		conf: conf,
		log:  log,
	}, nil
}

// connect pings the server until it answers or ConnectTimeout elapses.
func (p *postgres) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.conf.ConnectTimeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 5 * time.Second
	err := backoff.RetryNotify(
		func() error { return p.pool.Ping(ctx) },
		backoff.WithContext(b, ctx),
		func(err error, next time.Duration) {
			p.log.Warn("postgres not reachable, retrying", zap.Error(err), zap.Duration("retry-in", next))
		},
	)
	if err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	p.log.Info("connected to postgres",
		zap.String("database", p.pool.Config().ConnConfig.Database),
		zap.Int32("max-conns", p.conf.MaxConns),
		zap.Duration("query-timeout", p.conf.QueryTimeout),
	)
	return nil
}

func (p *postgres) close() error {
	err := p.db.Close()
	p.pool.Close()
	if err != nil {
		return fmt.Errorf("failed to close postgres: %w", err)
	}
	p.log.Info("disconnected from postgres")
	return nil
}

func (p *postgres) DB() *sqlx.DB {
	return p.db
}

func (p *postgres) QueryTimeout() time.Duration {
	return p.conf.QueryTimeout
}
