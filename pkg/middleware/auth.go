package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuthMiddleware guards a route group with a bearer token.
// Comparison is constant time. An empty expected token disables the check
// (local development).
func BearerAuthMiddleware(expectedToken string) HandlerFunc {
	return func(c Context) {
		if expectedToken == "" {
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "missing bearer token"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
