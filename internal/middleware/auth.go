package middleware

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Requires Authorization: Bearer <token> on every route except the public
// paths. An empty token disables authentication.
func RequireToken(token string, public ...string) gin.HandlerFunc {
	if token == "" {
		log.Printf("Warning: API_TOKEN not configured, API is running without authentication")
		return func(c *gin.Context) {
			c.Next()
		}
	}

	skip := make(map[string]bool, len(public))
	for _, path := range public {
		skip[path] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "Missing Authorization header. Use: Authorization: Bearer <token>")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorized(c, "Invalid authentication scheme. Use: Authorization: Bearer <token>")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			unauthorized(c, "Invalid token")
			return
		}

		c.Next()
	}
}

func unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":   "Unauthorized",
		"message": message,
	})
	c.Abort()
}
