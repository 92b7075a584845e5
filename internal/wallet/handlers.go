package wallet

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for wallet reads
type Handler struct {
	wallets *Service
	logger  *slog.Logger
}

// NewHandler creates a new wallet handler
func NewHandler(wallets *Service, logger *slog.Logger) *Handler {
	return &Handler{wallets: wallets, logger: logger}
}

// RegisterRoutes sets up wallet routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/:userId/wallet", h.GetWallet)
}

// GetWallet handles GET /users/:userId/wallet
func (h *Handler) GetWallet(c *gin.Context) {
	userID := c.Param("userId")

	w, err := h.wallets.Get(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("wallet lookup failed", "user", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "wallet_error",
			"message": "Failed to retrieve wallet",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"wallet": w,
	})
}
