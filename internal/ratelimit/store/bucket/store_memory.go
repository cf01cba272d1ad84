// Package bucket holds sliding-window request counters keyed by client.
package bucket

import (
	"container/list"
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"parley/internal/ratelimit/models"
)

const (
	shardCount                = 32
	defaultMaxBucketsPerShard = 10_000
)

// InMemoryBucketStore is a sliding-window store for a single gateway
// instance. Keys are spread over shards and each shard evicts its least
// recently used bucket when full.
type InMemoryBucketStore struct {
	shards [shardCount]*shard
	now    func() time.Time
}

type shard struct {
	mu         sync.Mutex
	buckets    map[string]*list.Element
	lru        *list.List
	maxBuckets int
}

type slidingWindow struct {
	key        string
	timestamps []time.Time
}

type MemoryOption func(*InMemoryBucketStore)

// WithMaxBucketsPerShard caps the number of tracked clients per shard.
func WithMaxBucketsPerShard(n int) MemoryOption {
	return func(s *InMemoryBucketStore) {
		for _, sh := range s.shards {
			sh.maxBuckets = n
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryBucketStore) {
		s.now = now
	}
}

func New(opts ...MemoryOption) *InMemoryBucketStore {
	s := &InMemoryBucketStore{now: time.Now}
	for i := range s.shards {
		s.shards[i] = &shard{
			buckets:    make(map[string]*list.Element),
			lru:        list.New(),
			maxBuckets: defaultMaxBucketsPerShard,
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	return s.AllowN(ctx, key, 1, limit, window)
}

// AllowN records cost requests when they fit in the window. A denied call
// records nothing.
func (s *InMemoryBucketStore) AllowN(_ context.Context, key string, cost, limit int, window time.Duration) (*models.RateLimitResult, error) {
	now := s.now()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sw := sh.get(key)
	sw.cleanup(now, window)

	if len(sw.timestamps)+cost > limit {
		resetAt := now.Add(window)
		if len(sw.timestamps) > 0 {
			resetAt = sw.timestamps[0].Add(window)
		}
		return &models.RateLimitResult{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(now, resetAt),
		}, nil
	}

	for range cost {
		sw.timestamps = append(sw.timestamps, now)
	}
	return &models.RateLimitResult{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(sw.timestamps),
		ResetAt:   sw.timestamps[0].Add(window),
	}, nil
}

func (s *InMemoryBucketStore) Reset(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if el, ok := sh.buckets[key]; ok {
		sh.lru.Remove(el)
		delete(sh.buckets, key)
	}
	return nil
}

// GetCurrentCount returns the number of requests recorded inside the window.
func (s *InMemoryBucketStore) GetCurrentCount(_ context.Context, key string, window time.Duration) (int, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	el, ok := sh.buckets[key]
	if !ok {
		return 0, nil
	}
	sw := el.Value.(*slidingWindow)
	sw.cleanup(s.now(), window)
	return len(sw.timestamps), nil
}

// Stats reports the total bucket count and the count per shard.
func (s *InMemoryBucketStore) Stats() (int, []int) {
	perShard := make([]int, shardCount)
	total := 0
	for i, sh := range s.shards {
		sh.mu.Lock()
		perShard[i] = len(sh.buckets)
		sh.mu.Unlock()
		total += perShard[i]
	}
	return total, perShard
}

func (s *InMemoryBucketStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// get returns the bucket for key, creating it and evicting the least
// recently used bucket if the shard is full. Caller holds sh.mu.
func (sh *shard) get(key string) *slidingWindow {
	if el, ok := sh.buckets[key]; ok {
		sh.lru.MoveToFront(el)
		return el.Value.(*slidingWindow)
	}
	if sh.maxBuckets > 0 && sh.lru.Len() >= sh.maxBuckets {
		if oldest := sh.lru.Back(); oldest != nil {
			sh.lru.Remove(oldest)
			delete(sh.buckets, oldest.Value.(*slidingWindow).key)
		}
	}
	sw := &slidingWindow{key: key}
	sh.buckets[key] = sh.lru.PushFront(sw)
	return sw
}

func (sw *slidingWindow) cleanup(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}

// retryAfter rounds up to whole seconds, with a floor of one.
func retryAfter(now, resetAt time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
