package repository

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"member_comms/pkg/logger"
)

type RateLimitRepository interface {
	// Allow counts one hit for key and reports whether it is within limit per window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type rateLimitRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewRateLimitRepository(redis *redis.Client, log logger.Logger) RateLimitRepository {
	return &rateLimitRepository{redis: redis, log: log}
}

func (r *rateLimitRepository) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.redis.Incr(ctx, "ratelimit:"+key).Result()
	if err != nil {
		r.log.Error("Failed to increment rate limit", "error", err)
		return false, err
	}

	if count == 1 {
		if err := r.redis.Expire(ctx, "ratelimit:"+key, window).Err(); err != nil {
			r.log.Warn("Failed to set rate limit TTL", "error", err)
		}
	}

	return count <= int64(limit), nil
}

// memoryRateLimitRepository keeps a token bucket per key in process. A
// bucket idle for a whole window has refilled, so it is dropped and rebuilt
// on the next hit.
type memoryRateLimitRepository struct {
	mu        sync.Mutex
	limiters  map[string]*memoryLimiter
	lastSweep time.Time
	now       func() time.Time
}

type memoryLimiter struct {
	limiter  *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

func NewMemoryRateLimitRepository() RateLimitRepository {
	return newMemoryRateLimitRepository(time.Now)
}

func newMemoryRateLimitRepository(now func() time.Time) *memoryRateLimitRepository {
	return &memoryRateLimitRepository{limiters: make(map[string]*memoryLimiter), now: now}
}

func (r *memoryRateLimitRepository) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Sub(r.lastSweep) >= window {
		r.evictIdle(now)
		r.lastSweep = now
	}

	l, ok := r.limiters[key]
	if !ok {
		l = &memoryLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), limit),
			window:  window,
		}
		r.limiters[key] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1), nil
}

func (r *memoryRateLimitRepository) evictIdle(now time.Time) {
	for key, l := range r.limiters {
		if now.Sub(l.lastSeen) >= l.window {
			delete(r.limiters, key)
		}
	}
}

func (r *memoryRateLimitRepository) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
