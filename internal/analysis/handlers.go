package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/defiintel/internal/assessments"
	"github.com/mbd888/defiintel/internal/features"
	"github.com/mbd888/defiintel/internal/pagination"
	"github.com/mbd888/defiintel/internal/validation"
)

// Handler provides HTTP endpoints for risk analysis
type Handler struct {
	service *Service
	heavy   []gin.HandlerFunc
}

// NewHandler creates a new analysis handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// WithHeavyMiddleware adds middleware in front of the batch and training
// routes, typically an extra rate limit charge.
func (h *Handler) WithHeavyMiddleware(mw ...gin.HandlerFunc) *Handler {
	h.heavy = append(h.heavy, mw...)
	return h
}

// RegisterRoutes sets up analysis routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	heavy := r.Group("", h.heavy...)

	subjects := r.Group("", validation.AddressParamMiddleware())
	subjects.POST("/wallets/:address/analyze", h.AnalyzeWallet)
	subjects.POST("/tokens/:address/analyze", h.AnalyzeToken)
	subjects.GET("/assessments/:address", h.ListAssessments)

	heavy.POST("/analyze", h.Analyze)
	r.POST("/detect", h.Detect)
	r.POST("/predict", h.Predict)

	r.POST("/training/samples", h.AddSample)
	r.GET("/training/samples", h.GetSamples)
	r.DELETE("/training/samples", h.ClearSamples)
	heavy.POST("/training/train", h.Train)

	r.GET("/assessment/:id", h.GetAssessment)
	r.GET("/model", h.GetModel)
}

// WalletRequest carries a raw wallet history
type WalletRequest struct {
	Transactions json.RawMessage `json:"transactions"`
}

// TokenRequest carries a raw transfer history
type TokenRequest struct {
	Transfers json.RawMessage `json:"transfers"`
}

// AnalyzeRequest carries every source for a combined analysis
type AnalyzeRequest struct {
	Subject      string          `json:"subject"`
	Transactions json.RawMessage `json:"transactions"`
	Transfers    json.RawMessage `json:"transfers"`
	Social       features.Vector `json:"social"`
}

// VectorsRequest carries pre-extracted feature vectors
type VectorsRequest struct {
	Wallet features.Vector `json:"wallet"`
	Token  features.Vector `json:"token"`
	Social features.Vector `json:"social"`
}

// SampleRequest queues a training sample
type SampleRequest struct {
	VectorsRequest
	Label *int `json:"label"`
}

// PredictRequest scores one combined vector
type PredictRequest struct {
	Subject  string          `json:"subject"`
	Features features.Vector `json:"features"`
}

// TrainRequest selects the training mode; omit supervised to auto-detect
type TrainRequest struct {
	Supervised *bool `json:"supervised"`
}

// AnalyzeWallet handles POST /wallets/:address/analyze
func (h *Handler) AnalyzeWallet(c *gin.Context) {
	var req WalletRequest
	if !bindJSON(c, &req) {
		return
	}
	txs, err := features.DecodeTransactions(req.Transactions)
	if err != nil {
		badRequest(c, "invalid_request", "transactions: "+err.Error())
		return
	}
	if len(txs) == 0 && strict(c) {
		noData(c, "no transactions supplied for "+c.GetString(validation.AddressKey))
		return
	}

	result, err := h.service.AnalyzeWallet(c.Request.Context(), c.GetString(validation.AddressKey), txs)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// AnalyzeToken handles POST /tokens/:address/analyze
func (h *Handler) AnalyzeToken(c *gin.Context) {
	var req TokenRequest
	if !bindJSON(c, &req) {
		return
	}
	transfers, err := features.DecodeTransfers(req.Transfers)
	if err != nil {
		badRequest(c, "invalid_request", "transfers: "+err.Error())
		return
	}
	if len(transfers) == 0 && strict(c) {
		noData(c, "no transfers supplied for "+c.GetString(validation.AddressKey))
		return
	}

	result, err := h.service.AnalyzeToken(c.Request.Context(), c.GetString(validation.AddressKey), transfers)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Analyze handles POST /analyze
func (h *Handler) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if !bindJSON(c, &req) {
		return
	}
	if errs := validation.Validate(
		validation.Required("subject", req.Subject),
		validation.ValidAddress("subject", req.Subject),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	txs, err := features.DecodeTransactions(req.Transactions)
	if err != nil {
		badRequest(c, "invalid_request", "transactions: "+err.Error())
		return
	}
	transfers, err := features.DecodeTransfers(req.Transfers)
	if err != nil {
		badRequest(c, "invalid_request", "transfers: "+err.Error())
		return
	}
	if len(txs) == 0 && len(transfers) == 0 && strict(c) {
		noData(c, "no transactions or transfers supplied")
		return
	}

	result, err := h.service.Analyze(c.Request.Context(), CombinedRequest{
		Subject:      validation.NormalizeAddress(req.Subject),
		Transactions: txs,
		Transfers:    transfers,
		Social:       req.Social,
	})
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Detect handles POST /detect
func (h *Handler) Detect(c *gin.Context) {
	var req VectorsRequest
	if !bindJSON(c, &req) {
		return
	}
	c.JSON(http.StatusOK, h.service.Detect(c.Request.Context(), req.Wallet, req.Token, req.Social))
}

// Predict handles POST /predict
func (h *Handler) Predict(c *gin.Context) {
	var req PredictRequest
	if !bindJSON(c, &req) {
		return
	}
	if errs := validation.Validate(validation.ValidAddress("subject", req.Subject)); len(errs) > 0 {
		badRequest(c, "validation_failed", errs.Error())
		return
	}
	pred := h.service.Predict(c.Request.Context(), validation.NormalizeAddress(req.Subject), req.Features)
	c.JSON(http.StatusOK, pred)
}

// AddSample handles POST /training/samples
func (h *Handler) AddSample(c *gin.Context) {
	var req SampleRequest
	if !bindJSON(c, &req) {
		return
	}
	if errs := validation.Validate(validation.ValidLabel("label", req.Label)); len(errs) > 0 {
		badRequest(c, "validation_failed", errs.Error())
		return
	}
	if len(req.Wallet) == 0 && len(req.Token) == 0 && len(req.Social) == 0 {
		badRequest(c, "empty_sample", "at least one of wallet, token or social is required")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"samples": h.service.AddSample(req.Wallet, req.Token, req.Social, req.Label),
	})
}

// GetSamples handles GET /training/samples
func (h *Handler) GetSamples(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"samples": h.service.Samples()})
}

// ClearSamples handles DELETE /training/samples
func (h *Handler) ClearSamples(c *gin.Context) {
	h.service.ClearSamples()
	c.JSON(http.StatusOK, gin.H{"samples": h.service.Samples()})
}

// Train handles POST /training/train
func (h *Handler) Train(c *gin.Context) {
	var req TrainRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	report, err := h.service.Train(c.Request.Context(), req.Supervised)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"report": report, "model": h.service.ModelStatus()})
}

// ListAssessments handles GET /assessments/:address
func (h *Handler) ListAssessments(c *gin.Context) {
	limit := assessments.DefaultListLimit
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	page, err := h.service.HistoryPage(c.Request.Context(), c.GetString(validation.AddressKey), limit, c.Query("cursor"))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetAssessment handles GET /assessment/:id
func (h *Handler) GetAssessment(c *gin.Context) {
	a, err := h.service.Assessment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// GetModel handles GET /model
func (h *Handler) GetModel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"model":   h.service.ModelStatus(),
		"samples": h.service.Samples(),
	})
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "request_too_large",
				"message": "Request body exceeds size limit",
			})
			return false
		}
		badRequest(c, "invalid_request", "Invalid request body")
		return false
	}
	return true
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   code,
		"message": message,
	})
}

// strict reports whether the caller asked for 404 instead of default
// features on an empty history (?strict=true).
func strict(c *gin.Context) bool {
	v, _ := strconv.ParseBool(c.Query("strict"))
	return v
}

func noData(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{"error": "no_data", "message": message})
}

func (h *Handler) serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrTooManyRecords):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too_many_records", "message": err.Error()})
	case errors.Is(err, ErrNoInput):
		badRequest(c, "empty_input", err.Error())
	case errors.Is(err, ErrNoLabels):
		c.JSON(http.StatusConflict, gin.H{"error": "no_labels", "message": err.Error()})
	case errors.Is(err, ErrNoSamples):
		c.JSON(http.StatusConflict, gin.H{"error": "no_samples", "message": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": err.Error()})
	case errors.Is(err, pagination.ErrInvalidCursor):
		badRequest(c, "invalid_cursor", err.Error())
	case errors.Is(err, assessments.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	default:
		h.service.logger.Error("analysis request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Internal server error"})
	}
}
