package session

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jayasurya0007/prism-wallet/internal/pagination"
	"github.com/jayasurya0007/prism-wallet/internal/validation"
)

// History page bounds.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Handler provides HTTP endpoints for session and rotation management.
type Handler struct {
	sessions *Manager
	rotator  *Rotator
	grants   *Grants
}

// NewHandler creates a new session handler.
func NewHandler(sessions *Manager, rotator *Rotator, grants *Grants) *Handler {
	return &Handler{sessions: sessions, rotator: rotator, grants: grants}
}

// RegisterRoutes sets up session routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sess := r.Group("/sessions")
	{
		sess.GET("", h.ListActive)
		sess.POST("", h.Create)
	}

	rot := r.Group("/rotation", validation.IdentityParamMiddleware())
	{
		rot.GET("/:identity/config", h.GetRotationConfig)
		rot.PUT("/:identity/config", h.SetRotationConfig)
		rot.POST("/:identity/rotate", h.Rotate)
		rot.POST("/:identity/stop", h.StopAutoRotation)
		rot.POST("/:identity/start", h.StartAutoRotation)
		rot.GET("/:identity/history", h.History)
		rot.GET("/:identity/age", h.CheckAge)
	}
}

// Create handles POST /v1/sessions
func (h *Handler) Create(c *gin.Context) {
	var req struct {
		Identity  string     `json:"identity" binding:"required"`
		Chain     string     `json:"chain" binding:"required"`
		ExpiresAt *time.Time `json:"expiresAt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "identity and chain required"})
		return
	}

	var expiresAt time.Time
	if req.ExpiresAt != nil {
		expiresAt = *req.ExpiresAt
	}
	cred, err := h.sessions.Create(c.Request.Context(), req.Identity, req.Chain, expiresAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_session", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, cred)
}

// ListActive handles GET /v1/sessions
func (h *Handler) ListActive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.Active()})
}

// GetRotationConfig handles GET /v1/rotation/:identity/config
func (h *Handler) GetRotationConfig(c *gin.Context) {
	cfg, ok := h.rotator.GetConfig(c.Param("identity"))
	if !ok {
		cfg = DefaultRotationConfig()
	}
	c.JSON(http.StatusOK, cfg)
}

// SetRotationConfig handles PUT /v1/rotation/:identity/config
func (h *Handler) SetRotationConfig(c *gin.Context) {
	var req struct {
		RotationIntervalSeconds int64 `json:"rotationIntervalSeconds" binding:"required"`
		MaxSessionAgeSeconds    int64 `json:"maxSessionAgeSeconds" binding:"required"`
		AutoRotate              bool  `json:"autoRotate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "rotation interval and max session age required"})
		return
	}

	cfg := RotationConfig{
		RotationInterval: time.Duration(req.RotationIntervalSeconds) * time.Second,
		MaxSessionAge:    time.Duration(req.MaxSessionAgeSeconds) * time.Second,
		AutoRotate:       req.AutoRotate,
	}
	if err := h.rotator.SetConfig(c.Param("identity"), cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_config", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// Rotate handles POST /v1/rotation/:identity/rotate
func (h *Handler) Rotate(c *gin.Context) {
	var req struct {
		Reason RotationReason `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = ReasonManual
	}

	rotated, err := h.rotator.Rotate(c.Request.Context(), c.Param("identity"), req.Reason)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rotation_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rotated": rotated})
}

// StopAutoRotation handles POST /v1/rotation/:identity/stop
func (h *Handler) StopAutoRotation(c *gin.Context) {
	h.rotator.StopAutoRotation(c.Param("identity"))
	c.JSON(http.StatusOK, gin.H{"autoRotate": false})
}

// StartAutoRotation handles POST /v1/rotation/:identity/start
func (h *Handler) StartAutoRotation(c *gin.Context) {
	h.rotator.StartAutoRotation(c.Param("identity"))
	_, ok := h.rotator.GetConfig(c.Param("identity"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no rotation config for identity"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"autoRotate": true})
}

// History handles GET /v1/rotation/:identity/history?limit=50&cursor=...
func (h *Handler) History(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "limit must be between 1 and 200"})
			return
		}
		limit = n
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "malformed cursor"})
		return
	}

	events, err := h.rotator.History(c.Request.Context(), c.Param("identity"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load history"})
		return
	}

	// Events are newest first; the cursor marks the last event of the
	// previous page.
	if cursor != nil {
		for i, e := range events {
			if e.Timestamp.Before(cursor.CreatedAt) ||
				(e.Timestamp.Equal(cursor.CreatedAt) && e.ID < cursor.ID) {
				events = events[i:]
				break
			}
			if i == len(events)-1 {
				events = nil
			}
		}
	}
	if len(events) > limit+1 {
		events = events[:limit+1]
	}

	page, next, hasMore := pagination.ComputePage(events, limit, func(e *RotationEvent) (time.Time, string) {
		return e.Timestamp, e.ID
	})
	c.JSON(http.StatusOK, gin.H{"events": page, "nextCursor": next, "hasMore": hasMore})
}

// CheckAge handles GET /v1/rotation/:identity/age?chain=ethereum
func (h *Handler) CheckAge(c *gin.Context) {
	chain := c.Query("chain")
	if chain == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "chain query parameter required"})
		return
	}
	c.JSON(http.StatusOK, h.rotator.CheckSessionAge(c.Param("identity"), chain))
}
