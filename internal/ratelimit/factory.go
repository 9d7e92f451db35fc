package ratelimit

import (
	"fmt"
	"time"

	"github.com/aman-churiwal/chat-router/internal/storage"
)

func NewLimiter(redis *storage.RedisClient, algorithm string, limit int, window time.Duration) (Limiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("invalid rate limit %d per %v", limit, window)
	}

	switch algorithm {
	case "fixed_window", "":
		return NewFixedWindow(redis, limit, window), nil
	case "sliding_window":
		return NewSlidingWindow(redis, limit, window), nil
	case "token_bucket":
		return NewTokenBucket(redis, limit, window), nil
	default:
		return nil, fmt.Errorf("unknown rate limit algorithm: %s", algorithm)
	}
}
