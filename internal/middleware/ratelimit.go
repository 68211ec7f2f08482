package middleware

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	radix "github.com/mediocregopher/radix/v3"

	"github.com/gin-gonic/gin"
)

// RateLimiter decides whether a request identified by key may proceed. It is
// injected into the router, not held as a module-level singleton, so
// deployments running multiple instances can swap in the Redis-backed
// implementation.
type RateLimiter interface {
	Allow(key string) bool
}

// InMemoryRateLimiter limits requests per key (e.g. IP) within a sliding
// window, with background eviction of expired entries.
type InMemoryRateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

func NewInMemoryRateLimiter(limit int, window time.Duration) *InMemoryRateLimiter {
	r := &InMemoryRateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
	go r.cleanup()
	return r
}

func (r *InMemoryRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-r.window)
	times := r.requests[key]
	// drop expired
	var valid []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) >= r.limit {
		return false
	}
	valid = append(valid, now)
	r.requests[key] = valid
	return true
}

func (r *InMemoryRateLimiter) cleanup() {
	tick := time.NewTicker(time.Minute)
	for range tick.C {
		r.mu.Lock()
		cutoff := time.Now().Add(-r.window)
		for k, times := range r.requests {
			var valid []time.Time
			for _, t := range times {
				if t.After(cutoff) {
					valid = append(valid, t)
				}
			}
			if len(valid) == 0 {
				delete(r.requests, k)
			} else {
				r.requests[k] = valid
			}
		}
		r.mu.Unlock()
	}
}

// RedisRateLimiter counts requests per key in Redis with a TTL equal to the
// window, so the limit is shared across instances. Fails open on Redis
// errors: dropping a provider webhook costs more than letting one through.
type RedisRateLimiter struct {
	client radix.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedisRateLimiter(client radix.Client, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, limit: limit, window: window, prefix: prefix}
}

func (r *RedisRateLimiter) Allow(key string) bool {
	redisKey := fmt.Sprintf("%s:%s", r.prefix, key)
	var count int
	if err := r.client.Do(radix.Cmd(&count, "INCR", redisKey)); err != nil {
		log.Printf("[RateLimit] redis INCR failed: %v", err)
		return true
	}
	if count == 1 {
		seconds := fmt.Sprintf("%d", int(r.window.Seconds()))
		if err := r.client.Do(radix.Cmd(nil, "EXPIRE", redisKey, seconds)); err != nil {
			log.Printf("[RateLimit] redis EXPIRE failed: %v", err)
		}
	}
	return count <= r.limit
}

// RateLimit returns a middleware that limits by client IP.
func RateLimit(limiter RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if !limiter.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
