// Package validation guards the ingest API against runaway clients.
package validation

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Limiter is a fixed one-second window counter kept in Redis so every
// replica shares the same budget.
type Limiter struct {
	redis redis.UniversalClient
	limit int
}

// NewLimiter allows up to perSecond calls per key each second. A
// non-positive limit allows everything.
func NewLimiter(rdb redis.UniversalClient, perSecond int) *Limiter {
	return &Limiter{redis: rdb, limit: perSecond}
}

// Allow reports whether key may make n more calls this second. Redis
// errors fail open.
func (l *Limiter) Allow(ctx context.Context, key string, n int) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	rk := "ratelimit:" + key

	count, err := l.redis.IncrBy(ctx, rk, int64(n)).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Rate limit check failed, allowing")
		return true
	}

	// Set expiry on first request
	if count == int64(n) {
		l.redis.Expire(ctx, rk, time.Second)
	}

	return count <= int64(l.limit)
}
