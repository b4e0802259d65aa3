package mongo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/v2/mongo/otelmongo"
	"go.uber.org/zap"
)

// Mongo gives stores access to the configured database.
type Mongo interface {
	Database() *mongodriver.Database
	Collection(name string) *mongodriver.Collection
	// QueryTimeout is the deadline applied to a single operation.
	QueryTimeout() time.Duration
}

type mongo struct {
	client   *mongodriver.Client
	database *mongodriver.Database
	conf     Config
	log      *zap.Logger
}

func newMongo(log *zap.Logger, conf Config) (*mongo, error) {
	if err := validateConfig(conf); err != nil {
		return nil, err
	}

	clientOptions := options.Client().
		ApplyURI(buildURI(conf)).
		SetMaxPoolSize(conf.MaxPoolSize).
		SetMinPoolSize(conf.MinPoolSize).
		SetMaxConnIdleTime(conf.MaxConnIdleTime).
		SetConnectTimeout(conf.ConnectTimeout).
		SetServerSelectionTimeout(conf.ServerSelectTimeout).
		SetMonitor(otelmongo.NewMonitor())

	// Connect does not dial; the connection is checked by Ping on start.
	client, err := mongodriver.Connect(clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	return &mongo{
		client:   client,
		database: client.Database(conf.Database),
		conf:     conf,
		log:      log,
	}, nil
}

func validateConfig(conf Config) error {
	if conf.ConnectionString != "" {
		return nil
	}
	if conf.Host == "" || conf.Port == 0 || conf.Database == "" {
		return errors.New("invalid mongo configuration: host, port and database are required")
	}
	return nil
}

func buildURI(conf Config) string {
	if conf.ConnectionString != "" {
		return conf.ConnectionString
	}

	u := url.URL{
		Scheme: "mongodb",
		Host:   net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port)),
		Path:   "/" + conf.Database,
	}
	if conf.Username != "" {
		u.User = url.UserPassword(conf.Username, conf.Password)
	}

	params := url.Values{}
	if conf.ReplicaSet != "" {
		params.Set("replicaSet", conf.ReplicaSet)
	}
	if conf.DirectConnection {
		params.Set("directConnection", "true")
	}
	u.RawQuery = params.Encode()

	return u.String()
}

func (m *mongo) connect(ctx context.Context) error {
	c, cancel := context.WithTimeout(ctx, m.conf.ConnectTimeout)
	defer cancel()

	if err := m.client.Ping(c, nil); err != nil {
		return fmt.Errorf("failed to ping mongo: %w", err)
	}

	m.log.Info("connected to mongo",
		zap.String("database", m.conf.Database),
		zap.Uint64("max-pool-size", m.conf.MaxPoolSize),
		zap.Duration("query-timeout", m.conf.QueryTimeout),
	)
	return nil
}

func (m *mongo) disconnect(ctx context.Context) error {
	c, cancel := context.WithTimeout(ctx, m.conf.ConnectTimeout)
	defer cancel()
	if err := m.client.Disconnect(c); err != nil {
		return fmt.Errorf("failed to disconnect from mongo: %w", err)
	}
	m.log.Info("disconnected from mongo")
	return nil
}

func (m *mongo) Database() *mongodriver.Database {
	return m.database
}

func (m *mongo) Collection(name string) *mongodriver.Collection {
	return m.database.Collection(name)
}

func (m *mongo) QueryTimeout() time.Duration {
	return m.conf.QueryTimeout
}
