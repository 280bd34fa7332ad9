//go:build integration

package archive

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/ckp-export/pkg/job"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (string, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cleanup := func() {
		redisContainer.Terminate(ctx)
	}

	return "redis://" + host + ":" + port.Port() + "/0", cleanup
}

func TestIntegration_RedisArchive(t *testing.T) {
	url, cleanup := setupRedisContainer(t)
	defer cleanup()

	ctx := context.Background()
	sink, err := OpenRedisSink(ctx, url, time.Hour)
	if err != nil {
		t.Fatalf("OpenRedisSink() error = %v", err)
	}
	defer sink.Close()

	hooks := NewHooks(sink)
	for i := 0; i < 3; i++ {
		task := job.NewTask("hosts", 2, nil)
		task.Iteration = i
		task.Output = []byte(`{"objects":[]}`)
		if err := hooks.OnComplete(task); err != nil {
			t.Fatalf("OnComplete() error = %v", err)
		}
	}

	opts, _ := redis.ParseURL(url)
	client := redis.NewClient(opts)
	defer client.Close()

	keys, err := client.Keys(ctx, "ckp:hosts:*").Result()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("archived keys = %v, want 3", keys)
	}
}
