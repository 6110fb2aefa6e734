package policy

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jayasurya0007/prism-wallet/internal/validation"
)

// Handler provides HTTP endpoints for policy management.
type Handler struct {
	service *Service
}

// NewHandler creates a new policy handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up policy routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	policies := r.Group("/policies")
	policies.Use(validation.IdentityParamMiddleware())
	{
		policies.GET("/:identity", h.Get)
		policies.PUT("/:identity", h.Set)
		policies.PATCH("/:identity", h.Update)
		policies.POST("/:identity/validate", h.Validate)
	}
}

// Get handles GET /v1/policies/:identity, creating the default policy on
// first use.
func (h *Handler) Get(c *gin.Context) {
	p, err := h.service.GetOrCreate(c.Request.Context(), c.Param("identity"))
	if err != nil {
		writePolicyError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Set handles PUT /v1/policies/:identity
func (h *Handler) Set(c *gin.Context) {
	var req SigningPolicy
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed policy body"})
		return
	}

	p, err := h.service.SetPolicy(c.Request.Context(), c.Param("identity"), req)
	if err != nil {
		writePolicyError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Update handles PATCH /v1/policies/:identity with a partial update.
func (h *Handler) Update(c *gin.Context) {
	var req PolicyUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed update body"})
		return
	}

	p, err := h.service.UpdatePolicy(c.Request.Context(), c.Param("identity"), req)
	if err != nil {
		writePolicyError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Validate handles POST /v1/policies/:identity/validate, a dry-run policy
// check without side effects.
func (h *Handler) Validate(c *gin.Context) {
	var req TransactionData
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed transaction body"})
		return
	}

	result, err := h.service.ValidateTransaction(c.Request.Context(), c.Param("identity"), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "validation failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func writePolicyError(c *gin.Context, err error) {
	var invalid *InvalidPolicyError
	switch {
	case errors.Is(err, ErrPolicyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no policy for identity"})
	case errors.Is(err, ErrInvalidIdentity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_identity", "message": "identity must be a 0x-prefixed 130-hex public key"})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_policy", "message": invalid.Reason})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "policy operation failed"})
	}
}
