// Package security provides response hardening middleware for the API.
package security

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
)

// apiCSP allows nothing to load: every response is JSON or a websocket
// upgrade, never a page.
const apiCSP = "default-src 'none'; frame-ancestors 'none'"

// HeadersMiddleware adds security headers to all responses
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", apiCSP)
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

var (
	corsMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions,
	}, ", ")
	corsHeaders = "Content-Type, X-API-Key, X-Request-ID"
)

// CORSMiddleware handles CORS for API endpoints. An empty list or "*"
// allows any origin, without credentials.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	wildcard := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := origin != "" && (wildcard || slices.Contains(allowedOrigins, origin))

		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", corsMethods)
			c.Header("Access-Control-Allow-Headers", corsHeaders)
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
			c.Header("Access-Control-Max-Age", "86400")
			c.Header("Vary", "Origin")
			if !wildcard {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			if origin != "" && !allowed {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
