package settlement

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jayasurya0007/prism-wallet/internal/validation"
)

// Handler exposes intent inspection and approval over HTTP.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	intents := r.Group("/intents")
	intents.GET("", h.listIntents)
	intents.GET("/pending", h.pendingApprovals)
	intents.GET("/:id", h.getIntent)
	intents.GET("/:id/progress", h.getProgress)
	intents.POST("/:id/approve", h.approveIntent)
	intents.POST("/:id/deny", h.denyIntent)
	intents.POST("/:id/refresh", h.refreshIntent)
	intents.POST("/:id/fail", h.failIntent)
}

func (h *Handler) listIntents(c *gin.Context) {
	identity := c.Query("identity")
	if !validation.IsValidIdentity(identity) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_identity", "message": "identity query parameter is required and must be a public key"})
		return
	}
	intents, err := h.service.History(c.Request.Context(), identity, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list intents"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"intents": intents})
}

func (h *Handler) pendingApprovals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pending": h.service.PendingApprovals()})
}

func (h *Handler) getIntent(c *gin.Context) {
	intent, err := h.service.GetIntent(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeIntentError(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}

func (h *Handler) getProgress(c *gin.Context) {
	progress, ok := h.service.GetProgress(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no progress recorded for intent"})
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (h *Handler) approveIntent(c *gin.Context) {
	if err := h.service.Approve(c.Param("id")); err != nil {
		writeIntentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "approved"})
}

func (h *Handler) denyIntent(c *gin.Context) {
	if err := h.service.Deny(c.Param("id")); err != nil {
		writeIntentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "denied"})
}

func (h *Handler) refreshIntent(c *gin.Context) {
	if err := h.service.Refresh(c.Param("id")); err != nil {
		writeIntentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshing"})
}

func (h *Handler) failIntent(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "failed by operator"
	}
	if err := h.service.FailIntent(c.Request.Context(), c.Param("id"), validation.SanitizeReason(req.Reason)); err != nil {
		writeIntentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "failed"})
}

func writeIntentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrIntentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "intent not found"})
	case errors.Is(err, ErrNoPendingIntent):
		c.JSON(http.StatusConflict, gin.H{"error": "not_pending", "message": "intent is not awaiting approval"})
	case errors.Is(err, ErrIntentTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "already_resolved", "message": "intent already reached a terminal state"})
	default:
		var te *TransitionError
		if errors.As(err, &te) {
			c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": te.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "settlement operation failed"})
	}
}
