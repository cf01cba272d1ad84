package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"parley/internal/ratelimit/models"
)

// RedisBucketStore shares sliding windows between gateway instances. Each key
// is a sorted set of request timestamps scored in milliseconds.
type RedisBucketStore struct {
	client *redis.Client
	now    func() time.Time
}

type RedisOption func(*RedisBucketStore)

func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisBucketStore) {
		s.now = now
	}
}

func NewRedis(client *redis.Client, opts ...RedisOption) *RedisBucketStore {
	s := &RedisBucketStore{client: client, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	return s.AllowN(ctx, key, 1, limit, window)
}

// AllowN adds cost members optimistically and removes them again when the
// window was already full, so concurrent gateways never over-admit.
func (s *RedisBucketStore) AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (*models.RateLimitResult, error) {
	now := s.now()
	nowMs := now.UnixMilli()
	cutoff := nowMs - window.Milliseconds()

	members := make([]redis.Z, cost)
	names := make([]any, cost)
	for i := range members {
		name := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()
		members[i] = redis.Z{Score: float64(nowMs), Member: name}
		names[i] = name
	}

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	before := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, members...)
	pipe.PExpire(ctx, key, window)
	oldest := pipe.ZRangeWithScores(ctx, key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit window %s: %w", key, err)
	}

	count := int(before.Val())
	resetAt := now.Add(window)
	if first := oldest.Val(); len(first) > 0 {
		resetAt = time.UnixMilli(int64(first[0].Score)).Add(window)
	}

	if count+cost > limit {
		if err := s.client.ZRem(ctx, key, names...).Err(); err != nil {
			return nil, fmt.Errorf("rate limit rollback %s: %w", key, err)
		}
		return &models.RateLimitResult{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(now, resetAt),
		}, nil
	}

	return &models.RateLimitResult{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - count - cost,
		ResetAt:   resetAt,
	}, nil
}

func (s *RedisBucketStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("reset rate limit %s: %w", key, err)
	}
	return nil
}

func (s *RedisBucketStore) GetCurrentCount(ctx context.Context, key string, window time.Duration) (int, error) {
	cutoff := s.now().UnixMilli() - window.Milliseconds()
	n, err := s.client.ZCount(ctx, key, "("+strconv.FormatInt(cutoff, 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("count rate limit %s: %w", key, err)
	}
	return int(n), nil
}
