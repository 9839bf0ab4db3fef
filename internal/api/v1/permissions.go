package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MAF2414/kyco-sub004/internal/bridge"
	"github.com/MAF2414/kyco-sub004/internal/permission"
)

// registerPermissionRoutes exposes the Permission Broker (spec §4.8) over
// HTTP so the IDE/UI can poll the current approval, list the backlog, and
// resolve or dismiss it.
func (h *APIHandlers) registerPermissionRoutes(group *gin.RouterGroup) {
	group.GET("/:session", h.getPermissionState)
	group.POST("/:session/resolve", h.resolvePermission)
	group.POST("/:session/dismiss", h.dismissPermission)
}

func (h *APIHandlers) getPermissionState(c *gin.Context) {
	if h.permissions == nil {
		c.JSON(http.StatusOK, gin.H{"current": nil, "pending": []bridge.ToolApprovalRequest{}})
		return
	}
	session := c.Param("session")
	current, ok := h.permissions.Current(session)
	resp := gin.H{"pending": h.permissions.Pending(session)}
	if ok {
		resp["current"] = current
	} else {
		resp["current"] = nil
	}
	c.JSON(http.StatusOK, resp)
}

type resolvePermissionRequest struct {
	RequestID     string         `json:"request_id" binding:"required"`
	Decision      string         `json:"decision" binding:"required"`
	Reason        string         `json:"reason"`
	ModifiedInput map[string]any `json:"modified_input"`
}

func (h *APIHandlers) resolvePermission(c *gin.Context) {
	if h.permissions == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no permission broker configured"})
		return
	}
	var req resolvePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	decision := bridge.ToolDecision(req.Decision)
	if decision != bridge.DecisionAllow && decision != bridge.DecisionDeny && decision != bridge.DecisionAsk {
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision must be allow, deny, or ask"})
		return
	}
	session := c.Param("session")
	err := h.permissions.Resolve(c.Request.Context(), session, req.RequestID, permission.Decision{
		Decision:      decision,
		Reason:        req.Reason,
		ModifiedInput: req.ModifiedInput,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

type dismissPermissionRequest struct {
	RequestID string `json:"request_id" binding:"required"`
}

func (h *APIHandlers) dismissPermission(c *gin.Context) {
	if h.permissions == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no permission broker configured"})
		return
	}
	var req dismissPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	session := c.Param("session")
	if err := h.permissions.Dismiss(c.Request.Context(), session, req.RequestID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "dismissed"})
}
