package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"parley/internal/platform/metrics"
)

const revokedTokenKeyPrefix = "trl:jti:"

// RedisTRL shares revocation state between every gateway and users instance.
// Redis expires each key with the token it revokes.
type RedisTRL struct {
	client  *redis.Client
	metrics *metrics.Metrics
}

type RedisTRLOption func(*RedisTRL)

func WithRedisMetrics(m *metrics.Metrics) RedisTRLOption {
	return func(t *RedisTRL) {
		t.metrics = m
	}
}

func NewRedisTRL(client *redis.Client, opts ...RedisTRLOption) *RedisTRL {
	trl := &RedisTRL{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(trl)
		}
	}
	return trl
}

func (t *RedisTRL) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return nil
	}
	if err := validateTTL(ttl); err != nil {
		return err
	}
	if err := t.client.Set(ctx, revokedTokenKeyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether jti is on the list. Expired entries are
// gone from Redis and read as not revoked.
func (t *RedisTRL) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	start := time.Now()
	defer observe(t.metrics, start)

	if jti == "" {
		return false, nil
	}
	n, err := t.client.Exists(ctx, revokedTokenKeyPrefix+jti).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("check token revocation: %w", err)
	}
	return n > 0, nil
}
