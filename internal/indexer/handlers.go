package indexer

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jayasurya0007/prism-wallet/internal/validation"
)

// Handler exposes read-only portfolio views backed by the indexer.
type Handler struct {
	client Client
}

// NewHandler creates a portfolio handler over the given indexer client.
func NewHandler(client Client) *Handler {
	return &Handler{client: client}
}

// RegisterRoutes sets up portfolio routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	portfolio := r.Group("/portfolio")
	{
		portfolio.GET("/:address/transfers", h.Transfers)
		portfolio.GET("/:address/analytics", h.Analytics)
	}
}

// Transfers handles GET /v1/portfolio/:address/transfers?limit=N, returning
// recent transfers touching the address, newest first.
func (h *Handler) Transfers(c *gin.Context) {
	address := c.Param("address")
	if !validation.IsValidAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address", "message": "address must be a 0x-prefixed 40-hex account address"})
		return
	}

	limit := DefaultTransferLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxTransferLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	transfers, err := h.client.GetTransferHistory(c.Request.Context(), address, limit)
	if err != nil {
		writeIndexerError(c, err)
		return
	}
	if transfers == nil {
		transfers = []Transfer{}
	}
	c.JSON(http.StatusOK, gin.H{"transfers": transfers})
}

// Analytics handles GET /v1/portfolio/:address/analytics
func (h *Handler) Analytics(c *gin.Context) {
	address := c.Param("address")
	if !validation.IsValidAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address", "message": "address must be a 0x-prefixed 40-hex account address"})
		return
	}

	analytics, err := h.client.GetAnalytics(c.Request.Context(), address)
	if err != nil {
		writeIndexerError(c, err)
		return
	}
	c.JSON(http.StatusOK, analytics)
}

func writeIndexerError(c *gin.Context, err error) {
	if errors.Is(err, ErrUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "indexer_unavailable", "message": "indexer cannot be reached"})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": "indexer_error", "message": "indexer request failed"})
}
