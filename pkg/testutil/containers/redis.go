//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"parley/internal/platform/config"
	platformredis "parley/internal/platform/redis"
)

// RedisContainer is a throwaway Redis reached through the platform client,
// so pool settings match production wiring.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	Client    *platformredis.Client
}

func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	c, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	fail := func(step string, err error) {
		_ = c.Terminate(ctx)
		t.Fatalf("%s: %v", step, err)
	}

	url, err := c.ConnectionString(ctx)
	if err != nil {
		fail("redis connection string", err)
	}
	client, err := platformredis.New(ctx, config.RedisConfig{URL: url, PoolSize: 20})
	if err != nil {
		fail("connect redis", err)
	}
	return &RedisContainer{Container: c, URL: url, Client: client}
}

// FlushAll clears every key between tests.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}
