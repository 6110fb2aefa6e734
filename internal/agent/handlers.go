package agent

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jayasurya0007/prism-wallet/internal/automation"
)

// Handler exposes agent lifecycle control over HTTP.
type Handler struct {
	runner     *Runner
	controller *automation.Controller
}

func NewHandler(runner *Runner, controller *automation.Controller) *Handler {
	return &Handler{runner: runner, controller: controller}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	agent := r.Group("/agent")
	agent.POST("/start", h.start)
	agent.POST("/stop", h.stop)
	agent.POST("/analyze", h.analyze)
	agent.PUT("/config", h.updateConfig)
	agent.GET("/status", h.status)
	agent.GET("/history", h.history)
}

type startRequest struct {
	Identity        string `json:"identity" binding:"required"`
	Address         string `json:"address" binding:"required"`
	IntervalSeconds int64  `json:"intervalSeconds"`
}

func (h *Handler) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "identity and address are required"})
		return
	}
	cfg := Config{
		Identity:         req.Identity,
		Address:          req.Address,
		AnalysisInterval: time.Duration(req.IntervalSeconds) * time.Second,
	}
	if err := h.runner.Start(c.Request.Context(), cfg); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "already_running", "message": "agent is already running"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_config", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": h.runner.Status()})
}

func (h *Handler) stop(c *gin.Context) {
	if err := h.runner.Stop(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "not_running", "message": "agent is not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": h.runner.Status()})
}

type analyzeRequest struct {
	Identity string `json:"identity"`
	Address  string `json:"address"`
}

func (h *Handler) analyze(c *gin.Context) {
	var req analyzeRequest
	_ = c.ShouldBindJSON(&req)

	result, err := h.runner.Analyze(c.Request.Context(), req.Identity, req.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

func (h *Handler) updateConfig(c *gin.Context) {
	var upd automation.ConfigUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed config update"})
		return
	}
	cfg, err := h.controller.SetConfig(c.Request.Context(), upd)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_config", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "config": cfg, "status": h.runner.Status()})
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.runner.Status())
}

func (h *Handler) history(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "history": h.runner.History(50)})
}
