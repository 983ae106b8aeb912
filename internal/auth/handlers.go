package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// maxKeyTTL bounds requested key lifetimes.
const maxKeyTTL = 365 * 24 * time.Hour

// Handler provides HTTP endpoints for key management
type Handler struct {
	manager *Manager
}

// NewHandler creates a new auth handler
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// RegisterRoutes sets up key routes. All of them need the admin key.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	keys := r.Group("/keys", RequireAdmin())
	keys.POST("", h.CreateKey)
	keys.GET("", h.ListKeys)
	keys.DELETE("/:id", h.RevokeKey)
}

// CreateKeyRequest issues a key.
type CreateKeyRequest struct {
	Name       string `json:"name" binding:"required"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// CreateKey handles POST /keys
func (h *Handler) CreateKey(c *gin.Context) {
	var req CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name is required"})
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if req.TTLSeconds < 0 || ttl > maxKeyTTL {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_ttl", "message": "ttl_seconds must be between 0 and one year"})
		return
	}

	raw, key, err := h.manager.GenerateKey(c.Request.Context(), req.Name, ttl)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to create key"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"key":     key,
		"api_key": raw,
		"warning": "Store this key securely. It will not be shown again.",
	})
}

// ListKeys handles GET /keys
func (h *Handler) ListKeys(c *gin.Context) {
	keys, err := h.manager.ListKeys(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list keys"})
		return
	}
	if keys == nil {
		keys = []*APIKey{}
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

// RevokeKey handles DELETE /keys/:id
func (h *Handler) RevokeKey(c *gin.Context) {
	err := h.manager.RevokeKey(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrKeyNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Key not found"})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to revoke key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}
