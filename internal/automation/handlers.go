package automation

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for automation control.
type Handler struct {
	controller *Controller
}

// NewHandler creates a new automation handler.
func NewHandler(controller *Controller) *Handler {
	return &Handler{controller: controller}
}

// RegisterRoutes sets up automation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auto := r.Group("/automation")
	{
		auto.GET("/config", h.GetConfig)
		auto.PATCH("/config", h.SetConfig)
		auto.PUT("/level", h.SetLevel)
		auto.GET("/metrics", h.GetMetrics)
		auto.POST("/metrics/reset", h.ResetMetrics)
		auto.GET("/emergency", h.GetEmergency)
		auto.POST("/emergency/stop", h.Stop)
		auto.POST("/emergency/resume", h.Resume)
	}
}

// GetConfig handles GET /v1/automation/config
func (h *Handler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.GetConfig())
}

// SetConfig handles PATCH /v1/automation/config
func (h *Handler) SetConfig(c *gin.Context) {
	var req ConfigUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed config body"})
		return
	}

	cfg, err := h.controller.SetConfig(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_config", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// SetLevel handles PUT /v1/automation/level
func (h *Handler) SetLevel(c *gin.Context) {
	var req struct {
		Level Level `json:"level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "level required"})
		return
	}

	cfg, err := h.controller.SetLevel(c.Request.Context(), req.Level)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_level", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// GetMetrics handles GET /v1/automation/metrics
func (h *Handler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.GetMetrics())
}

// ResetMetrics handles POST /v1/automation/metrics/reset
func (h *Handler) ResetMetrics(c *gin.Context) {
	h.controller.ResetMetrics()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// GetEmergency handles GET /v1/automation/emergency
func (h *Handler) GetEmergency(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.EmergencyStateNow())
}

// Stop handles POST /v1/automation/emergency/stop
func (h *Handler) Stop(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	h.controller.EmergencyStop(c.Request.Context(), req.Reason, "user")
	c.JSON(http.StatusOK, h.controller.EmergencyStateNow())
}

// Resume handles POST /v1/automation/emergency/resume
func (h *Handler) Resume(c *gin.Context) {
	h.controller.Resume(c.Request.Context())
	c.JSON(http.StatusOK, h.controller.EmergencyStateNow())
}
