package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aman-churiwal/chat-router/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Keeps a sorted set of request timestamps per key and counts the ones
// inside the trailing window
type SlidingWindowLimiter struct {
	redis  *storage.RedisClient
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewSlidingWindow(redis *storage.RedisClient, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:  redis,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Adds and counts the request in one transaction. A rejected request
// removes its own entry again.
func (s *SlidingWindowLimiter) Allow(ctx context.Context, key string) (Result, error) {
	redisKey := fmt.Sprintf("%s:sliding:%s", keyPrefix, key)
	now := s.now()
	windowStart := now.Add(-s.window)

	// Members must be unique even when two requests share a timestamp
	member := uuid.NewString()

	pipe := s.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(windowStart.UnixNano(), 10))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	countCmd := pipe.ZCard(ctx, redisKey)
	oldestCmd := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.PExpire(ctx, redisKey, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	count := int(countCmd.Val())
	resetAt := now.Add(s.window)
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		resetAt = time.Unix(0, int64(oldest[0].Score)).Add(s.window)
	}

	if count > s.limit {
		if err := s.redis.ZRem(ctx, redisKey, member); err != nil {
			return Result{}, err
		}
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	return Result{
		Allowed:   true,
		Remaining: s.limit - count,
		ResetAt:   resetAt,
	}, nil
}

func (s *SlidingWindowLimiter) Limit() int {
	return s.limit
}

func (s *SlidingWindowLimiter) Window() time.Duration {
	return s.window
}

func (s *SlidingWindowLimiter) Name() string {
	return "sliding_window"
}
