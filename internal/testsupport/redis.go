package testsupport

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/rcabral/switchyard/internal/cache"
	"github.com/rcabral/switchyard/internal/config"
)

// RedisContainer bundles the running container with the application's
// snapshot service.
type RedisContainer struct {
	Container testcontainers.Container

	// Client is the raw go-redis client, for side-channel assertions.
	Client *goredis.Client

	// Snapshots is the campaign snapshot service under test.
	Snapshots cache.SnapshotService
}

// Terminate closes the client and removes the container.
func (c *RedisContainer) Terminate(ctx context.Context) error {
	_ = c.Snapshots.Close()
	return c.Container.Terminate(ctx)
}

// StartRedisContainer runs a redis:7-alpine container and wires the
// application cache client to it.
func StartRedisContainer(ctx context.Context) (*RedisContainer, error) {
	redisContainer, err := redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	endpoint, err := redisContainer.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		return nil, fmt.Errorf("failed to get redis endpoint: %w", err)
	}

	host, port, _ := strings.Cut(endpoint, ":")

	testCfg := &config.RedisConfig{
		Host:           host,
		Port:           port,
		PoolSize:       10,
		PingMaxRetries: 5,
		PingBackoff:    2 * time.Second,
	}
	client, err := cache.NewRedisClient(ctx, testCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	return &RedisContainer{
		Container: redisContainer,
		Client:    client,
		Snapshots: cache.NewRedisSnapshots(client),
	}, nil
}

// NewRedisSubscriber subscribes to a Pub/Sub channel and forwards message
// payloads to the returned channel. Cleanup is registered on the test.
func NewRedisSubscriber(t *testing.T, endpoint, channel string) <-chan string {
	t.Helper()

	client := goredis.NewClient(&goredis.Options{Addr: endpoint})
	sub := client.Subscribe(context.Background(), channel)

	// Wait for the subscription handshake so no published message is lost.
	if _, err := sub.Receive(context.Background()); err != nil {
		t.Fatalf("failed to subscribe to %s: %v", channel, err)
	}

	out := make(chan string, 16)
	go func() {
		for msg := range sub.Channel() {
			out <- msg.Payload
		}
	}()

	t.Cleanup(func() {
		_ = sub.Close()
		_ = client.Close()
	})

	return out
}
