package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aman-churiwal/chat-router/internal/storage"
)

// Counts requests per key in consecutive, non-overlapping windows
type FixedWindowLimiter struct {
	redis  *storage.RedisClient
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewFixedWindow(redis *storage.RedisClient, limit int, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		redis:  redis,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (f *FixedWindowLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := f.now()
	windowMs := f.window.Milliseconds()
	current := now.UnixMilli() / windowMs
	resetAt := time.UnixMilli((current + 1) * windowMs)

	redisKey := fmt.Sprintf("%s:fixed:%s:%d", keyPrefix, key, current)

	pipe := f.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, f.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	count := int(incr.Val())
	return Result{
		Allowed:   count <= f.limit,
		Remaining: max(f.limit-count, 0),
		ResetAt:   resetAt,
	}, nil
}

func (f *FixedWindowLimiter) Limit() int {
	return f.limit
}

func (f *FixedWindowLimiter) Window() time.Duration {
	return f.window
}

func (f *FixedWindowLimiter) Name() string {
	return "fixed_window"
}
