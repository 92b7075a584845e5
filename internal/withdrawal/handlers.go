package withdrawal

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"paylance/internal/wallet"
)

// Handler provides HTTP endpoints for withdrawals
type Handler struct {
	withdrawals *Service
	logger      *slog.Logger
}

// NewHandler creates a new withdrawal handler
func NewHandler(withdrawals *Service, logger *slog.Logger) *Handler {
	return &Handler{withdrawals: withdrawals, logger: logger}
}

// RegisterRoutes sets up withdrawal routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/withdrawals", h.Submit)
	r.GET("/withdrawals/:id", h.GetRequest)
	r.GET("/users/:userId/withdrawals", h.ListByUser)
}

// RegisterAdminRoutes sets up admin-only withdrawal routes
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/withdrawals/pending", h.ListPending)
	r.POST("/withdrawals/:id/approve", h.Approve)
	r.POST("/withdrawals/:id/process", h.MarkProcessing)
	r.POST("/withdrawals/:id/complete", h.Complete)
	r.POST("/withdrawals/:id/reject", h.Reject)
}

// Submit handles POST /withdrawals
func (h *Handler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "userId, amountKobo and bank details are required",
		})
		return
	}

	r, err := h.withdrawals.Submit(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		errCode := "withdrawal_error"

		switch {
		case errors.Is(err, ErrInvalidAmount):
			status = http.StatusBadRequest
			errCode = "invalid_amount"
		case errors.Is(err, ErrBelowMinimum):
			status = http.StatusBadRequest
			errCode = "below_minimum"
		case errors.Is(err, wallet.ErrInsufficientAvailable), errors.Is(err, wallet.ErrWalletNotFound):
			status = http.StatusBadRequest
			errCode = "insufficient_balance"
		}

		if status == http.StatusInternalServerError {
			h.logger.Error("withdrawal submit failed", "user", req.UserID, "error", err)
		}
		c.JSON(status, gin.H{
			"error":   errCode,
			"message": err.Error(),
		})
		return
	}

	h.logger.Info("withdrawal requested",
		"requestId", r.ID, "user", r.UserID, "amountKobo", r.Amount)
	c.JSON(http.StatusCreated, gin.H{
		"status":     "pending",
		"withdrawal": r,
		"note":       "Withdrawals are processed within 24 hours",
	})
}

// GetRequest handles GET /withdrawals/:id
func (h *Handler) GetRequest(c *gin.Context) {
	r, err := h.withdrawals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "withdrawal_not_found",
				"message": "No withdrawal request with that ID",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "withdrawal_error",
			"message": "Failed to retrieve withdrawal request",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"withdrawal": r})
}

// ListByUser handles GET /users/:userId/withdrawals
func (h *Handler) ListByUser(c *gin.Context) {
	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	requests, err := h.withdrawals.ListByUser(c.Request.Context(), c.Param("userId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "withdrawal_error",
			"message": "Failed to list withdrawal requests",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"withdrawals": requests,
		"count":       len(requests),
	})
}

// ListPending handles GET /admin/withdrawals/pending
func (h *Handler) ListPending(c *gin.Context) {
	requests, err := h.withdrawals.ListPending(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "withdrawal_error",
			"message": "Failed to list pending withdrawals",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"withdrawals": requests,
		"count":       len(requests),
	})
}

// Approve handles POST /admin/withdrawals/:id/approve
func (h *Handler) Approve(c *gin.Context) {
	r, err := h.withdrawals.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondDecisionError(c, err)
		return
	}

	h.logger.Info("withdrawal approved", "requestId", r.ID, "user", r.UserID)
	c.JSON(http.StatusOK, gin.H{
		"status":     "approved",
		"withdrawal": r,
	})
}

// MarkProcessing handles POST /admin/withdrawals/:id/process
func (h *Handler) MarkProcessing(c *gin.Context) {
	r, err := h.withdrawals.MarkProcessing(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondDecisionError(c, err)
		return
	}

	h.logger.Info("withdrawal processing", "requestId", r.ID, "user", r.UserID)
	c.JSON(http.StatusOK, gin.H{
		"status":     "processing",
		"withdrawal": r,
	})
}

// CompleteRequest carries the payout confirmation.
type CompleteRequest struct {
	ProviderRef string `json:"providerRef" binding:"required"`
}

// Complete handles POST /admin/withdrawals/:id/complete
func (h *Handler) Complete(c *gin.Context) {
	var req CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "providerRef is required",
		})
		return
	}

	r, err := h.withdrawals.Complete(c.Request.Context(), c.Param("id"), req.ProviderRef)
	if err != nil {
		h.respondDecisionError(c, err)
		return
	}

	h.logger.Info("withdrawal completed",
		"requestId", r.ID, "user", r.UserID, "providerRef", req.ProviderRef)
	c.JSON(http.StatusOK, gin.H{
		"status":     "completed",
		"withdrawal": r,
	})
}

// RejectRequest carries the operator's rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Reject handles POST /admin/withdrawals/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason is required",
		})
		return
	}

	r, err := h.withdrawals.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.respondDecisionError(c, err)
		return
	}

	h.logger.Info("withdrawal rejected",
		"requestId", r.ID, "user", r.UserID, "reason", req.Reason)
	c.JSON(http.StatusOK, gin.H{
		"status":     "rejected",
		"withdrawal": r,
	})
}

func (h *Handler) respondDecisionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRequestNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "withdrawal_not_found",
			"message": "No withdrawal request with that ID",
		})
	case errors.Is(err, ErrAlreadyDecided):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_decided",
			"message": "Withdrawal request already decided",
		})
	default:
		h.logger.Error("withdrawal decision failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "withdrawal_error",
			"message": err.Error(),
		})
	}
}
