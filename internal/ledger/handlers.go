package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for transaction reads
type Handler struct {
	ledger *Service
	logger *slog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(ledger *Service, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger}
}

// RegisterRoutes sets up ledger routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/:userId/transactions", h.GetHistory)
	r.GET("/transactions/:reference", h.GetTransaction)
}

// GetHistory handles GET /users/:userId/transactions
func (h *Handler) GetHistory(c *gin.Context) {
	userID := c.Param("userId")

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if n, err := strconv.Atoi(offsetStr); err == nil && n >= 0 {
			offset = n
		}
	}

	txns, err := h.ledger.History(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("transaction history lookup failed", "user", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_error",
			"message": "Failed to retrieve transaction history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": txns,
		"count":        len(txns),
	})
}

// GetTransaction handles GET /transactions/:reference
func (h *Handler) GetTransaction(c *gin.Context) {
	reference := c.Param("reference")

	txn, err := h.ledger.Get(c.Request.Context(), reference)
	if err != nil {
		if errors.Is(err, ErrTxnNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "transaction_not_found",
				"message": "No transaction with that reference",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "ledger_error",
			"message": "Failed to retrieve transaction",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transaction": txn,
	})
}
