// Package ratelimit implements the per-route HTTP limits (30/min quote,
// 60/min order and solver reads, 5/min register, 10/min unregister). It
// composes an in-process golang.org/x/time/rate bucket
// (always available, instance-local) with an optional Redis-backed
// fixed-window counter (authoritative across instances), falling back to the
// in-process bucket alone when Redis isn't configured or errors.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limit describes an allowance of n requests per window, per key.
type Limit struct {
	N      int
	Window time.Duration
}

// PerMinute is shorthand for an n-requests-per-minute route limit.
func PerMinute(n int) Limit {
	return Limit{N: n, Window: time.Minute}
}

// Limiter answers whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// InProcess is a per-key token bucket, refilled continuously at N/Window.
// Used standalone when Redis is not configured, and as the fallback behind
// Redis (consulted only when a Redis call fails) when it is.
type InProcess struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	limiters func() *rate.Limiter
}

func NewInProcess(limit Limit) *InProcess {
	r := rate.Limit(float64(limit.N) / limit.Window.Seconds())
	burst := limit.N
	if burst < 1 {
		burst = 1
	}
	return &InProcess{
		buckets: make(map[string]*rate.Limiter),
		limiters: func() *rate.Limiter {
			return rate.NewLimiter(r, burst)
		},
	}
}

func (p *InProcess) Allow(_ context.Context, key string) (bool, error) {
	p.mu.Lock()
	b, ok := p.buckets[key]
	if !ok {
		b = p.limiters()
		p.buckets[key] = b
	}
	p.mu.Unlock()
	return b.Allow(), nil
}

// Redis implements a fixed-window counter: INCR the window's bucket key,
// set its expiry on first write. Simpler than a true sliding window, and
// cheap enough to run on every request.
type Redis struct {
	client *redis.Client
	limit  Limit
	prefix string
}

func NewRedis(client *redis.Client, prefix string, limit Limit) *Redis {
	return &Redis{client: client, limit: limit, prefix: prefix}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	bucket := time.Now().UnixNano() / r.limit.Window.Nanoseconds()
	redisKey := fmt.Sprintf("ratelimit:%s:%s:%d", r.prefix, key, bucket)

	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, r.limit.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(r.limit.N), nil
}

// Composite tries Redis first (authoritative across instances); if Redis is
// unavailable or unconfigured it falls back to the in-process bucket so a
// Redis outage degrades to per-instance limiting rather than no limiting.
type Composite struct {
	primary  *Redis
	fallback *InProcess
}

func NewComposite(primary *Redis, fallback *InProcess) *Composite {
	return &Composite{primary: primary, fallback: fallback}
}

func (c *Composite) Allow(ctx context.Context, key string) (bool, error) {
	if c.primary != nil {
		ok, err := c.primary.Allow(ctx, key)
		if err == nil {
			return ok, nil
		}
	}
	if c.fallback != nil {
		return c.fallback.Allow(ctx, key)
	}
	return true, nil
}
