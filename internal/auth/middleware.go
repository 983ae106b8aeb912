package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContextKeyAPIKey is the gin context key holding the authenticated *APIKey.
const ContextKeyAPIKey = "apiKey"

// Middleware resolves the request's API key, if any. Invalid keys are
// not rejected here; RequireAuth decides whether a key is needed.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if raw == "" {
			raw = c.GetHeader("X-API-Key")
		}
		if raw != "" {
			if key, err := m.ValidateKey(c.Request.Context(), raw); err == nil {
				c.Set(ContextKeyAPIKey, key)
			}
		}
		c.Next()
	}
}

// RequireAuth rejects requests without a valid key.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAuthenticated(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer sk_...' or 'X-API-Key' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests not made with the operator key.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := GetAPIKey(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Admin API key required.",
			})
			return
		}
		if !key.Admin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Only the admin key can manage API keys.",
			})
			return
		}
		c.Next()
	}
}

// GetAPIKey returns the API key from context (if authenticated)
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	v, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	key, ok := v.(*APIKey)
	return key, ok
}

// IsAuthenticated checks if the request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	_, ok := GetAPIKey(c)
	return ok
}
