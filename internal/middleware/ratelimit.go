package middleware

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/chat-router/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// Limits each client IP. When the limiter itself fails the request is let
// through.
func RateLimit(limiter ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()

		result, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			log.Printf("[%s] Rate limit check failed, allowing request: %v", c.GetString("request_id"), err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			retryAfter := int(time.Until(result.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "Too many requests from this IP, please try again later.",
				"limit":      limiter.Limit(),
				"retryAfter": retryAfter,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
