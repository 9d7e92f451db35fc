package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aman-churiwal/chat-router/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Refills limit tokens evenly over window; each request takes one
type TokenBucket struct {
	redis    *storage.RedisClient
	capacity int
	window   time.Duration
	now      func() time.Time
}

type bucketState struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

func NewTokenBucket(redis *storage.RedisClient, capacity int, window time.Duration) *TokenBucket {
	return &TokenBucket{
		redis:    redis,
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
}

// Tokens per second
func (t *TokenBucket) refillRate() float64 {
	return float64(t.capacity) / t.window.Seconds()
}

func (t *TokenBucket) Allow(ctx context.Context, key string) (Result, error) {
	redisKey := fmt.Sprintf("%s:bucket:%s", keyPrefix, key)
	now := t.now()

	state := bucketState{Tokens: float64(t.capacity), LastRefill: now}

	data, err := t.redis.Get(ctx, redisKey)
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return Result{}, err
	default:
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			state = bucketState{Tokens: float64(t.capacity), LastRefill: now}
		}
	}

	elapsed := now.Sub(state.LastRefill).Seconds()
	state.Tokens = math.Min(state.Tokens+elapsed*t.refillRate(), float64(t.capacity))
	state.LastRefill = now

	allowed := state.Tokens >= 1
	if allowed {
		state.Tokens--
	}

	encoded, err := json.Marshal(state)
	if err != nil {
		return Result{}, err
	}
	if err := t.redis.Set(ctx, redisKey, encoded, 2*t.window); err != nil {
		return Result{}, err
	}

	missing := float64(t.capacity) - state.Tokens
	untilFull := time.Duration(missing / t.refillRate() * float64(time.Second))

	return Result{
		Allowed:   allowed,
		Remaining: int(state.Tokens),
		ResetAt:   now.Add(untilFull),
	}, nil
}

func (t *TokenBucket) Limit() int {
	return t.capacity
}

func (t *TokenBucket) Window() time.Duration {
	return t.window
}

func (t *TokenBucket) Name() string {
	return "token_bucket"
}
