package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"production-scheduler/internal/models"
	"production-scheduler/internal/service"
	"production-scheduler/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	composer  *service.Composer
	lifecycle *service.LifecycleService
	ledger    *service.LedgerService
	stalls    *service.StallMonitor
}

// NewHandler creates a new HTTP handler
func NewHandler(
	composer *service.Composer,
	lifecycle *service.LifecycleService,
	ledger *service.LedgerService,
	stalls *service.StallMonitor,
) *Handler {
	return &Handler{
		composer:  composer,
		lifecycle: lifecycle,
		ledger:    ledger,
		stalls:    stalls,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/batches/propose", h.proposeBatch)
		v1.POST("/batches", h.createBatch)
		v1.POST("/batches/:id/finalize", h.finalizeBatch)
		v1.POST("/batches/:id/complete", h.completeBatch)
		v1.POST("/batches/:id/cancel", h.cancelBatch)
		v1.POST("/batches/:id/hold", h.holdBatch)
		v1.POST("/batches/:id/resume", h.resumeBatch)
		v1.GET("/batches/:id", h.getBatch)
		v1.GET("/orders/:id/completion", h.getOrderCompletion)
		v1.POST("/reservations/reallocate", h.reallocate)
		v1.GET("/ledger", h.getBalances)
		v1.GET("/ledger/:sku", h.getBalance)
		v1.GET("/alerts/stalls", h.getStalls)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// ProposeBatchRequest asks for an advisory composition.
type ProposeBatchRequest struct {
	BaseType     string `json:"base_type" binding:"required"`
	CapacityHint int    `json:"capacity_hint"`
}

// proposeBatch composes an advisory batch proposal
func (h *Handler) proposeBatch(c *gin.Context) {
	var req ProposeBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	proposal, err := h.composer.Compose(c.Request.Context(), req.BaseType, req.CapacityHint)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, proposal)
}

// CreateBatchRequest persists a (possibly operator-edited) proposal as draft.
type CreateBatchRequest struct {
	BaseType string                  `json:"base_type" binding:"required"`
	Entries  []models.BatchEntryData `json:"entries" binding:"required,min=1"`
}

// createBatch persists a draft batch
func (h *Handler) createBatch(c *gin.Context) {
	var req CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	batch, err := h.lifecycle.CreateDraft(c.Request.Context(), req.BaseType, req.Entries)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, batch)
}

// finalizeBatch hard-locks a draft batch and activates it
func (h *Handler) finalizeBatch(c *gin.Context) {
	batchID, ok := batchIDParam(c)
	if !ok {
		return
	}

	batch, err := h.lifecycle.Finalize(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

// completeBatch marks an active batch built
func (h *Handler) completeBatch(c *gin.Context) {
	batchID, ok := batchIDParam(c)
	if !ok {
		return
	}

	batch, err := h.lifecycle.Complete(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

// CancelBatchRequest carries the operator's reason.
type CancelBatchRequest struct {
	Reason string `json:"reason"`
}

// cancelBatch aborts a batch and restores its reservations
func (h *Handler) cancelBatch(c *gin.Context) {
	batchID, ok := batchIDParam(c)
	if !ok {
		return
	}

	var req CancelBatchRequest
	_ = c.ShouldBindJSON(&req)

	batch, err := h.lifecycle.Cancel(c.Request.Context(), batchID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

// holdBatch pauses an active batch
func (h *Handler) holdBatch(c *gin.Context) {
	batchID, ok := batchIDParam(c)
	if !ok {
		return
	}

	batch, err := h.lifecycle.Hold(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

// resumeBatch returns an on-hold batch to active
func (h *Handler) resumeBatch(c *gin.Context) {
	batchID, ok := batchIDParam(c)
	if !ok {
		return
	}

	batch, err := h.lifecycle.Resume(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

// getBatch handles batch reads for downstream pick-list tooling
func (h *Handler) getBatch(c *gin.Context) {
	batchID, ok := batchIDParam(c)
	if !ok {
		return
	}

	batch, entries, err := h.lifecycle.GetBatch(c.Request.Context(), batchID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Batch not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"batch":   batch,
		"entries": entries,
	})
}

// getOrderCompletion reports built/total progress for an order
func (h *Handler) getOrderCompletion(c *gin.Context) {
	idStr := c.Param("id")
	orderID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	completion, err := h.lifecycle.GetOrderCompletion(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, completion)
}

// ReallocateRequest moves soft-reserved stock between orders.
type ReallocateRequest struct {
	FromOrder int64  `json:"from_order" binding:"required"`
	ToOrder   int64  `json:"to_order" binding:"required"`
	SKU       string `json:"sku" binding:"required"`
	Qty       int    `json:"qty" binding:"required,min=1"`
}

// reallocate moves soft reservations between orders
func (h *Handler) reallocate(c *gin.Context) {
	var req ReallocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	err := h.ledger.Reallocate(c.Request.Context(), req.FromOrder, req.ToOrder, req.SKU, req.Qty)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "reallocated"})
}

// getBalances lists all ledger balances
func (h *Handler) getBalances(c *gin.Context) {
	balances, err := h.ledger.GetBalances(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

// getBalance reads one ledger balance
func (h *Handler) getBalance(c *gin.Context) {
	balance, err := h.ledger.GetBalance(c.Request.Context(), c.Param("sku"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

// getStalls lists open stall episodes
func (h *Handler) getStalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stalls": h.stalls.CurrentStalls()})
}

func batchIDParam(c *gin.Context) (int64, bool) {
	batchID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid batch ID"})
		return 0, false
	}
	return batchID, true
}

// respondError maps domain errors to HTTP statuses.
func respondError(c *gin.Context, err error) {
	var shortage *models.ShortageError
	var invalid *models.InvalidCompositionError
	var unknownOrder *models.UnknownOrderError
	var unknownSKU *models.UnknownSKUError
	var conflict *models.ConcurrentModificationError

	switch {
	case errors.As(err, &shortage):
		c.JSON(http.StatusConflict, gin.H{
			"error":    "Component shortage",
			"shortage": shortage.Lines,
		})
	case errors.As(err, &invalid):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Invalid composition",
			"details": invalid.Reason,
		})
	case errors.As(err, &unknownOrder), errors.As(err, &unknownSKU):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not found",
			"details": err.Error(),
		})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Concurrent modification, retry with a fresh snapshot",
			"details": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal error",
			"details": err.Error(),
		})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
