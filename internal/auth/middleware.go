package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	contextUserIDKey = "auth.user_id"
	contextEmailKey  = "auth.email"
)

// Middleware guards a route group with bearer-token auth. Requests without
// a valid token are rejected with 401 before the handler runs.
func Middleware(tokens *TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "missing bearer token"})
			return
		}
		claims, err := tokens.Validate(strings.TrimPrefix(header, prefix))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid or expired token"})
			return
		}
		c.Set(contextUserIDKey, claims.UserID)
		c.Set(contextEmailKey, claims.Subject)
		c.Next()
	}
}

// UserID returns the authenticated user's ID from a guarded request.
func UserID(c *gin.Context) int64 {
	return c.GetInt64(contextUserIDKey)
}

// Email returns the authenticated user's email from a guarded request.
func Email(c *gin.Context) string {
	return c.GetString(contextEmailKey)
}
