package webhooks

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/defiintel/internal/idgen"
	"github.com/mbd888/defiintel/internal/validation"
)

// MaxSubscriptions caps how many callbacks can be registered.
const MaxSubscriptions = 100

// Handler provides HTTP endpoints for webhook management
type Handler struct {
	store       Store
	validateURL func(string) error
	now         func() time.Time
}

// NewHandler creates a webhook handler. validateURL vets callback URLs at
// registration; nil accepts any http(s) URL.
func NewHandler(store Store, validateURL func(string) error) *Handler {
	if validateURL == nil {
		validateURL = func(string) error { return nil }
	}
	return &Handler{store: store, validateURL: validateURL, now: time.Now}
}

// RegisterRoutes sets up webhook routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.Create)
	r.GET("/webhooks", h.List)
	r.GET("/webhooks/:id", h.Get)
	r.DELETE("/webhooks/:id", h.Delete)
}

// CreateRequest registers a callback.
type CreateRequest struct {
	URL      string      `json:"url" binding:"required"`
	Events   []EventType `json:"events" binding:"required"`
	Subjects []string    `json:"subjects"`
	MinScore int         `json:"min_score"`
}

// Create handles POST /webhooks
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "Invalid request body")
		return
	}
	if len(req.Events) == 0 {
		badRequest(c, "invalid_events", "At least one event type is required")
		return
	}
	for _, e := range req.Events {
		if !e.Valid() {
			badRequest(c, "invalid_events", "Unknown event type: "+string(e))
			return
		}
	}
	if req.MinScore < 0 || req.MinScore > 100 {
		badRequest(c, "invalid_min_score", "min_score must be between 0 and 100")
		return
	}
	subjects := make([]string, 0, len(req.Subjects))
	for _, s := range req.Subjects {
		if validation.DetectChain(s) == validation.ChainUnknown {
			badRequest(c, "invalid_address", "Subject is not an EVM or Solana address: "+s)
			return
		}
		subjects = append(subjects, validation.NormalizeAddress(s))
	}
	if err := h.validateURL(req.URL); err != nil {
		badRequest(c, "invalid_url", err.Error())
		return
	}

	ctx := c.Request.Context()
	existing, err := h.store.List(ctx)
	if err != nil {
		internalError(c, err)
		return
	}
	if len(existing) >= MaxSubscriptions {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "limit_reached",
			"message": "Webhook subscription limit reached",
		})
		return
	}

	sub := &Subscription{
		ID:        idgen.Webhook(),
		URL:       req.URL,
		Secret:    idgen.Secret(),
		Events:    req.Events,
		Subjects:  subjects,
		MinScore:  req.MinScore,
		Active:    true,
		CreatedAt: h.now().UTC(),
	}
	if len(sub.Subjects) == 0 {
		sub.Subjects = nil
	}
	if err := h.store.Create(ctx, sub); err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": sub,
		"secret":  sub.Secret, // shown once
		"usage": gin.H{
			"header":    HeaderSignature,
			"signature": "sha256=HMAC-SHA256(secret, timestamp + \".\" + body)",
			"timestamp": HeaderTimestamp,
		},
	})
}

// List handles GET /webhooks
func (h *Handler) List(c *gin.Context) {
	subs, err := h.store.List(c.Request.Context())
	if err != nil {
		internalError(c, err)
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": subs, "count": len(subs)})
}

// Get handles GET /webhooks/:id
func (h *Handler) Get(c *gin.Context) {
	sub, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// Delete handles DELETE /webhooks/:id
func (h *Handler) Delete(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": code, "message": message})
}

func storeError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
		return
	}
	internalError(c, err)
}

func internalError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Internal server error"})
}
