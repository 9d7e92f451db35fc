package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether a client key may make another request.
type Limiter interface {
	// Counts the request against key and reports the outcome
	Allow(ctx context.Context, key string) (Result, error)

	Limit() int

	Window() time.Duration

	Name() string
}

type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

const keyPrefix = "chatrouter:ratelimit"
