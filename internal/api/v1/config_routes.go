package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// reloadConfig re-reads both the runtime config and the mode/chain
// definitions files in place (spec §4.2's POST /ctl/config/reload).
func (h *APIHandlers) reloadConfig(c *gin.Context) {
	if err := h.cfg.Reload(); err != nil {
		writeError(c, err)
		return
	}
	if err := h.defs.Reload(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}
