package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Writes one access line per request. Routed chat requests also name the
// backend that served them and how many backends were tried.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		requestID := c.GetString("request_id")

		if value, ok := c.Get(dispatchKey); ok {
			if d, ok := value.(Dispatch); ok {
				backend := d.Backend
				if backend == "" {
					backend = "none"
				}
				log.Printf("[%s] %s %s - %d - %v - %s - backend=%s attempts=%d tokens=%d",
					requestID,
					method,
					path,
					statusCode,
					latency,
					c.ClientIP(),
					backend,
					d.Attempts,
					d.TokensUsed,
				)
				return
			}
		}

		log.Printf("[%s] %s %s - %d - %v - %s",
			requestID,
			method,
			path,
			statusCode,
			latency,
			c.ClientIP(),
		)
	}
}
