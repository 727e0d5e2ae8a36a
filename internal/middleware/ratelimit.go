package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/musicverse/api/pkg/response"
)

// Counter is the fallback counting tier used when Redis is unreachable.
// Implementations may lose counts on restart; the limiter only needs
// best-effort protection from them.
type Counter interface {
	Incr(key string, window time.Duration) int64
}

// MemoryCounter is a process-local Counter. Windows are fixed, anchored
// at the first increment for a key.
type MemoryCounter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	count   int64
	resetAt time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{buckets: make(map[string]*bucket)}
}

func (m *MemoryCounter) Incr(key string, window time.Duration) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	b, ok := m.buckets[key]
	if !ok || now.After(b.resetAt) {
		b = &bucket{resetAt: now.Add(window)}
		m.buckets[key] = b
	}
	b.count++
	return b.count
}

// RateLimiter enforces per-user request quotas. Redis is the
// authoritative tier; when it is unavailable the in-process counter
// takes over rather than letting traffic through unmetered.
type RateLimiter struct {
	redis    *redis.Client
	fallback Counter
}

func NewRateLimiter(redisClient *redis.Client, fallback Counter) *RateLimiter {
	if fallback == nil {
		fallback = NewMemoryCounter()
	}
	return &RateLimiter{redis: redisClient, fallback: fallback}
}

// Limit creates a rate limiting middleware
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := GetUserID(c)
		if userID == "" {
			return c.Next() // Skip rate limiting if no user (auth middleware should catch this)
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, userID)
		count, ttl := rl.incr(c.Context(), key, window)

		if count > int64(maxRequests) {
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

func (rl *RateLimiter) incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration) {
	if rl.redis != nil {
		count, err := rl.redis.Incr(ctx, key).Result()
		if err == nil {
			if count == 1 {
				rl.redis.Expire(ctx, key, window)
			}
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			if ttl < 0 {
				ttl = window
			}
			return count, ttl
		}
	}
	return rl.fallback.Incr(key, window), window
}

// GenerateLimit returns a rate limiter for generation submissions.
func (rl *RateLimiter) GenerateLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("generate", maxPerHour, time.Hour)
}

// RetryLimit returns a rate limiter for retry submissions.
func (rl *RateLimiter) RetryLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("retry", maxPerHour, time.Hour)
}
