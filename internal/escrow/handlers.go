package escrow

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for escrow operations
type Handler struct {
	escrow *Service
	logger *slog.Logger
}

// NewHandler creates a new escrow handler
func NewHandler(escrow *Service, logger *slog.Logger) *Handler {
	return &Handler{escrow: escrow, logger: logger}
}

// RegisterRoutes sets up escrow routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/escrows/:id", h.GetEscrow)
	r.GET("/users/:userId/escrows", h.ListEscrows)
	r.POST("/escrows/:id/release", h.ReleaseEscrow)
	r.POST("/escrows/:id/dispute", h.DisputeEscrow)
}

// RegisterAdminRoutes sets up admin-only escrow routes
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/escrows/:id/refund", h.RefundEscrow)
	r.POST("/escrows/:id/resolve", h.ResolveDispute)
	r.POST("/escrows/:id/manual-release", h.SetManualRelease)
}

// GetEscrow handles GET /escrows/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	p, err := h.escrow.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrEscrowNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "escrow_not_found",
				"message": "No escrow with that ID",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "escrow_error",
			"message": "Failed to retrieve escrow",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": p})
}

// ListEscrows handles GET /users/:userId/escrows
func (h *Handler) ListEscrows(c *gin.Context) {
	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	escrows, err := h.escrow.ListByUser(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "escrow_error",
			"message": "Failed to list escrows",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"escrows": escrows,
		"count":   len(escrows),
	})
}

// ReleaseEscrow handles POST /escrows/:id/release — the client approving
// the delivered work and paying the freelancer out.
func (h *Handler) ReleaseEscrow(c *gin.Context) {
	p, err := h.escrow.Release(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondEscrowError(c, err, "release_error")
		return
	}

	h.logger.Info("escrow released",
		"escrowId", p.ID, "payee", p.PayeeID, "netKobo", p.NetAmount())
	c.JSON(http.StatusOK, gin.H{
		"status": "released",
		"escrow": p,
	})
}

// DisputeRequest contains the parameters for disputing an escrow.
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// DisputeEscrow handles POST /escrows/:id/dispute
func (h *Handler) DisputeEscrow(c *gin.Context) {
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason is required",
		})
		return
	}

	p, err := h.escrow.Dispute(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.respondEscrowError(c, err, "dispute_error")
		return
	}

	h.logger.Info("escrow disputed", "escrowId", p.ID, "reason", req.Reason)
	c.JSON(http.StatusOK, gin.H{
		"status": "disputed",
		"escrow": p,
	})
}

// RefundRequest carries the operator's refund reason.
type RefundRequest struct {
	Reason string `json:"reason"`
}

// RefundEscrow handles POST /escrows/:id/refund (admin)
func (h *Handler) RefundEscrow(c *gin.Context) {
	var req RefundRequest
	_ = c.ShouldBindJSON(&req)

	p, err := h.escrow.Refund(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.respondEscrowError(c, err, "refund_error")
		return
	}

	h.logger.Info("escrow refunded", "escrowId", p.ID, "payer", p.PayerID, "amountKobo", p.Amount)
	c.JSON(http.StatusOK, gin.H{
		"status": "refunded",
		"escrow": p,
	})
}

// ResolveRequest carries a dispute resolution decision.
type ResolveRequest struct {
	Resolution string `json:"resolution" binding:"required"` // "release" or "refund"
	Note       string `json:"note"`
}

// ResolveDispute handles POST /escrows/:id/resolve (admin)
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "resolution is required",
		})
		return
	}
	if req.Resolution != "release" && req.Resolution != "refund" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_resolution",
			"message": "resolution must be release or refund",
		})
		return
	}

	p, err := h.escrow.ResolveDispute(c.Request.Context(), c.Param("id"), req.Resolution, req.Note)
	if err != nil {
		h.respondEscrowError(c, err, "resolve_error")
		return
	}

	h.logger.Info("dispute resolved",
		"escrowId", p.ID, "resolution", req.Resolution)
	c.JSON(http.StatusOK, gin.H{
		"status": string(p.Status),
		"escrow": p,
	})
}

// ManualReleaseRequest toggles the operator hold.
type ManualReleaseRequest struct {
	Manual *bool `json:"manual" binding:"required"`
}

// SetManualRelease handles POST /escrows/:id/manual-release (admin)
func (h *Handler) SetManualRelease(c *gin.Context) {
	var req ManualReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "manual is required",
		})
		return
	}

	p, err := h.escrow.SetManualRelease(c.Request.Context(), c.Param("id"), *req.Manual)
	if err != nil {
		h.respondEscrowError(c, err, "manual_release_error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": p})
}

// respondEscrowError maps service errors to HTTP responses.
func (h *Handler) respondEscrowError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	errCode := fallback

	switch {
	case errors.Is(err, ErrEscrowNotFound):
		status = http.StatusNotFound
		errCode = "escrow_not_found"
	case errors.Is(err, ErrAlreadyResolved):
		status = http.StatusConflict
		errCode = "already_resolved"
	case errors.Is(err, ErrInvalidStatus):
		status = http.StatusConflict
		errCode = "invalid_status"
	case errors.Is(err, ErrNotDisputed):
		status = http.StatusConflict
		errCode = "not_disputed"
	case errors.Is(err, ErrEscrowNotFunded):
		status = http.StatusConflict
		errCode = "not_funded"
	case errors.Is(err, ErrReleaseFundsUnavailable):
		status = http.StatusConflict
		errCode = "funds_unavailable"
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("escrow operation failed", "error", err)
	}
	c.JSON(status, gin.H{
		"error":   errCode,
		"message": err.Error(),
	})
}
