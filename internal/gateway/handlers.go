package gateway

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"paylance/internal/escrow"
	"paylance/internal/ledger"
	"paylance/internal/orders"
)

// Handler provides HTTP endpoints for checkout and verification
type Handler struct {
	checkout   *Service
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewHandler creates a new gateway handler
func NewHandler(checkout *Service, reconciler *Reconciler, logger *slog.Logger) *Handler {
	return &Handler{checkout: checkout, reconciler: reconciler, logger: logger}
}

// RegisterRoutes sets up payment routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments/checkout", h.Checkout)
	// The provider redirects the customer here after payment; also callable
	// directly to re-verify a stuck reference.
	r.GET("/payments/verify", h.Verify)
	// Provider webhooks POST the same settlement path.
	r.POST("/payments/verify", h.Verify)
}

// CheckoutRequest starts a payment for an order.
type CheckoutRequest struct {
	OrderKind string `json:"orderKind" binding:"required"` // gig or project
	OrderID   string `json:"orderId" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
}

// Checkout handles POST /payments/checkout
func (h *Handler) Checkout(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "orderKind, orderId and email are required",
		})
		return
	}

	result, err := h.checkout.Checkout(c.Request.Context(), orders.Kind(req.OrderKind), req.OrderID, req.Email)
	if err != nil {
		status := http.StatusInternalServerError
		errCode := "checkout_error"

		switch {
		case errors.Is(err, orders.ErrUnknownKind):
			status = http.StatusBadRequest
			errCode = "unknown_order_kind"
		case errors.Is(err, orders.ErrOrderNotFound):
			status = http.StatusNotFound
			errCode = "order_not_found"
		case errors.Is(err, escrow.ErrSamePartyPayment):
			status = http.StatusBadRequest
			errCode = "same_party"
		case errors.Is(err, ErrProviderUnavailable):
			status = http.StatusBadGateway
			errCode = "provider_unavailable"
		}

		if status == http.StatusInternalServerError {
			h.logger.Error("checkout failed", "orderId", req.OrderID, "error", err)
		}
		c.JSON(status, gin.H{
			"error":   errCode,
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":   "initialized",
		"checkout": result,
	})
}

// Verify handles GET and POST /payments/verify. The customer redirect
// carries the reference as a query parameter; webhooks carry it in the body.
func (h *Handler) Verify(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		// Flutterwave sends tx_ref, Paystack sends trxref
		reference = c.Query("tx_ref")
	}
	if reference == "" {
		reference = c.Query("trxref")
	}
	if reference == "" && c.Request.Method == http.MethodPost {
		var body struct {
			Reference string `json:"reference"`
			TxRef     string `json:"tx_ref"`
		}
		if err := c.ShouldBindJSON(&body); err == nil {
			reference = body.Reference
			if reference == "" {
				reference = body.TxRef
			}
		}
	}
	if reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_reference",
			"message": "a payment reference is required",
		})
		return
	}

	settlement, err := h.reconciler.VerifyAndSettle(c.Request.Context(), reference)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrTxnNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "unknown_reference",
				"message": "No transaction with that reference",
			})
		case errors.Is(err, ErrProviderUnavailable):
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "provider_unavailable",
				"message": "Could not reach the payment provider; try again shortly",
			})
		default:
			h.logger.Error("verification failed", "reference", reference, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "verification_error",
				"message": "Failed to verify payment",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     string(settlement.Status),
		"settlement": settlement,
	})
}
