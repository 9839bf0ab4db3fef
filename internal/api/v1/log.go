package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MAF2414/kyco-sub004/internal/job"
)

// appendLogRequest is the payload of spec §4.2's POST /ctl/log: an external
// caller (IDE, CLI, a side process) appending an out-of-band log line to a
// job's bounded log history.
type appendLogRequest struct {
	JobID   uint64 `json:"job_id" binding:"required"`
	Kind    string `json:"kind"`
	Message string `json:"message" binding:"required"`
}

func (h *APIHandlers) appendLog(c *gin.Context) {
	var req appendLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind := req.Kind
	if kind == "" {
		kind = "external"
	}
	err := h.jobs.AppendLogEvent(job.ID(req.JobID), job.LogEvent{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Message:   req.Message,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "appended"})
}
