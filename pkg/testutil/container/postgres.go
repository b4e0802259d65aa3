package container

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresUser     = "mailqueue"
	postgresPassword = "mailqueue"
	postgresDatabase = "mailqueue"
)

// PostgresContainer is a throwaway PostgreSQL server.
type PostgresContainer struct {
	Container testcontainers.Container
	// DSN is a pgx connection string for the test database.
	DSN string
}

// StartPostgresContainer starts a PostgreSQL container from the given image,
// "postgres:16-alpine" when empty.
func StartPostgresContainer(ctx context.Context, image string) (*PostgresContainer, error) {
	if image == "" {
		image = "postgres:16-alpine"
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     postgresUser,
				"POSTGRES_PASSWORD": postgresPassword,
				"POSTGRES_DB":       postgresDatabase,
			},
			// The server restarts once after init, so the message shows up twice.
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			).WithDeadline(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	addr, err := container.PortEndpoint(ctx, "5432/tcp", "")
	if err != nil {
		_ = container.Terminate(ctx) //nolint:errcheck // best effort cleanup
		return nil, fmt.Errorf("failed to get postgres endpoint: %w", err)
	}

	return &PostgresContainer{
		Container: container,
		DSN:       fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", postgresUser, postgresPassword, addr, postgresDatabase),
	}, nil
}

// Postgres starts a container for the test and terminates it on cleanup.
// It skips the test in short mode.
func Postgres(t testing.TB) *PostgresContainer {
	t.Helper()
	skipShort(t)

	c, err := StartPostgresContainer(context.Background(), "")
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Container.Terminate(context.Background()); err != nil {
			t.Logf("postgres container cleanup: %v", err)
		}
	})
	return c
}
