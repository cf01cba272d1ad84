package bucket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"parley/internal/ratelimit/models"
)

const (
	testLimit  = 10
	testWindow = time.Minute
)

type InMemoryBucketStoreSuite struct {
	suite.Suite
	store *InMemoryBucketStore
	now   time.Time
	ctx   context.Context
}

func TestInMemoryBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryBucketStoreSuite))
}

func (s *InMemoryBucketStoreSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = New(WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *InMemoryBucketStoreSuite) TestAllow() {
	s.Run("first request allowed", func() {
		result, err := s.store.Allow(s.ctx, "rl:read:ip:first", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit, result.Limit)
		s.Equal(testLimit-1, result.Remaining)
		s.Equal(s.now.Add(testWindow), result.ResetAt)
	})

	s.Run("requests up to limit allowed", func() {
		var result *models.RateLimitResult
		var err error
		for range testLimit {
			result, err = s.store.Allow(s.ctx, "rl:read:ip:limit", testLimit, testWindow)
		}
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(0, result.Remaining)
	})

	s.Run("request over limit denied with retry after", func() {
		for range testLimit {
			_, err := s.store.Allow(s.ctx, "rl:read:ip:over", testLimit, testWindow)
			require.NoError(s.T(), err)
		}
		result, err := s.store.Allow(s.ctx, "rl:read:ip:over", testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(0, result.Remaining)
		s.Equal(testLimit, result.Limit)
		s.Equal(60, result.RetryAfter)
	})
}

func (s *InMemoryBucketStoreSuite) TestWindowSlides() {
	key := "rl:auth:ip:slide"
	for range testLimit {
		_, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
		s.Require().NoError(err)
	}

	s.now = s.now.Add(30 * time.Second)
	result, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Equal(30, result.RetryAfter)

	s.now = s.now.Add(30 * time.Second)
	result, err = s.store.Allow(s.ctx, key, testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(testLimit-1, result.Remaining)
}

func (s *InMemoryBucketStoreSuite) TestDeniedRequestsAreNotCounted() {
	key := "rl:write:ip:denied"
	_, err := s.store.AllowN(s.ctx, key, testLimit, testLimit, testWindow)
	s.Require().NoError(err)
	for range 5 {
		_, err = s.store.Allow(s.ctx, key, testLimit, testWindow)
		s.Require().NoError(err)
	}

	count, err := s.store.GetCurrentCount(s.ctx, key, testWindow)
	s.Require().NoError(err)
	s.Equal(testLimit, count)
}

func (s *InMemoryBucketStoreSuite) TestAllowN() {
	s.Run("cost of 5 consumes 5 requests", func() {
		result, err := s.store.AllowN(s.ctx, "rl:write:ip:five", 5, testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(5, result.Remaining)
	})

	s.Run("cost greater than remaining denied", func() {
		first, err := s.store.AllowN(s.ctx, "rl:write:ip:deny", 7, testLimit, testWindow)
		s.Require().NoError(err)
		s.Require().True(first.Allowed)

		result, err := s.store.AllowN(s.ctx, "rl:write:ip:deny", 4, testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
	})
}

func (s *InMemoryBucketStoreSuite) TestReset() {
	_, err := s.store.AllowN(s.ctx, "rl:auth:ip:reset", testLimit, testLimit, testWindow)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Reset(s.ctx, "rl:auth:ip:reset"))

	result, err := s.store.Allow(s.ctx, "rl:auth:ip:reset", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(testLimit-1, result.Remaining)
}

func (s *InMemoryBucketStoreSuite) TestEvictsLeastRecentlyUsed() {
	store := New(WithMaxBucketsPerShard(1), WithClock(func() time.Time { return s.now }))
	for i := range 200 {
		_, err := store.Allow(s.ctx, "rl:read:ip:"+string(rune('a'+i%26))+string(rune('a'+i/26)), testLimit, testWindow)
		s.Require().NoError(err)
	}
	total, perShard := store.Stats()
	s.LessOrEqual(total, shardCount)
	for _, n := range perShard {
		s.LessOrEqual(n, 1)
	}
}

func (s *InMemoryBucketStoreSuite) TestConcurrent() {
	limit := 100
	key := "rl:read:ip:concurrent"
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for range 200 {
		wg.Go(func() {
			result, err := s.store.Allow(s.ctx, key, limit, testWindow)
			if err != nil || !result.Allowed {
				return
			}
			mu.Lock()
			allowedCount++
			mu.Unlock()
		})
	}

	wg.Wait()
	s.Equal(limit, allowedCount)
}
