package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

type RedisBucketStoreSuite struct {
	suite.Suite
	mr    *miniredis.Miniredis
	store *RedisBucketStore
	now   time.Time
	ctx   context.Context
}

func TestRedisBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisBucketStoreSuite))
}

func (s *RedisBucketStoreSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	client := redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.T().Cleanup(func() { _ = client.Close() })
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewRedis(client, WithRedisClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *RedisBucketStoreSuite) TestAllowUntilLimit() {
	key := "rl:auth:ip:10.0.0.1"
	for i := range testLimit {
		result, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit-i-1, result.Remaining)
		s.WithinDuration(s.now.Add(testWindow), result.ResetAt, 0)
	}

	result, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Equal(60, result.RetryAfter)

	count, err := s.store.GetCurrentCount(s.ctx, key, testWindow)
	s.Require().NoError(err)
	s.Equal(testLimit, count, "denied request must be rolled back")
}

func (s *RedisBucketStoreSuite) TestWindowSlides() {
	key := "rl:read:ip:10.0.0.2"
	_, err := s.store.AllowN(s.ctx, key, testLimit, testLimit, testWindow)
	s.Require().NoError(err)

	s.now = s.now.Add(testWindow + time.Millisecond)
	result, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(testLimit-1, result.Remaining)
}

func (s *RedisBucketStoreSuite) TestKeyExpiresWithWindow() {
	key := "rl:write:ip:10.0.0.3"
	_, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
	s.Require().NoError(err)
	s.True(s.mr.Exists(key))

	s.mr.FastForward(testWindow + time.Second)
	s.False(s.mr.Exists(key))
}

func (s *RedisBucketStoreSuite) TestReset() {
	key := "rl:auth:ip:10.0.0.4"
	_, err := s.store.AllowN(s.ctx, key, testLimit, testLimit, testWindow)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Reset(s.ctx, key))

	result, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *RedisBucketStoreSuite) TestUnavailableRedisReturnsError() {
	s.mr.Close()
	_, err := s.store.Allow(s.ctx, "rl:read:ip:10.0.0.5", testLimit, testWindow)
	s.Error(err)
}
