package ratelimit

import (
	"context"
	"time"

	"github.com/comigor/relaychat/internal/logger"
)

// Limiter allows up to limit requests per key and window.
type Limiter struct {
	counter Counter
	limit   int
	now     func() time.Time
}

// NewLimiter creates a Limiter. A limit of zero or less allows everything.
func NewLimiter(counter Counter, limit int) *Limiter {
	return &Limiter{counter: counter, limit: limit, now: time.Now}
}

// Allow records a request for key and reports whether it is within the limit.
// Counter failures allow the request.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	count, err := l.counter.Increment(ctx, key, l.now())
	if err != nil {
		logger.L.Error("rate limit check failed", "key", key, "error", err)
		return true
	}
	if count > l.limit {
		logger.L.Debug("rate limited", "key", key, "count", count, "limit", l.limit)
		return false
	}
	return true
}
