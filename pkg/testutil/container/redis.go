package container

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisContainer is a single-node Redis server.
type RedisContainer struct {
	Container testcontainers.Container
	// Addr is the host:port of the server as seen from the test process.
	Addr string
}

// StartRedisContainer starts a Redis container from the given image,
// "redis:7-alpine" when empty.
func StartRedisContainer(ctx context.Context, image string) (*RedisContainer, error) {
	if image == "" {
		image = "redis:7-alpine"
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready to accept connections"),
				wait.ForListeningPort("6379/tcp"),
			).WithDeadline(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	addr, err := container.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		_ = container.Terminate(ctx) //nolint:errcheck // best effort cleanup
		return nil, fmt.Errorf("failed to get redis endpoint: %w", err)
	}

	return &RedisContainer{Container: container, Addr: addr}, nil
}

// Redis starts a container for the test and terminates it on cleanup.
// It skips the test in short mode.
func Redis(t testing.TB) *RedisContainer {
	t.Helper()
	skipShort(t)

	c, err := StartRedisContainer(context.Background(), "")
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Container.Terminate(context.Background()); err != nil {
			t.Logf("redis container cleanup: %v", err)
		}
	})
	return c
}
