// Package v1 implements the Control Plane's route handlers (spec §4.2),
// grounded on cloudshipai-station/internal/api/v1's APIHandlers-struct +
// RegisterRoutes shape (base.go), its per-resource route-group split
// (agent_runs.go, agents.go, ...), and its gin.H{"error": ...} response
// convention.
package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/MAF2414/kyco-sub004/internal/bridge"
	"github.com/MAF2414/kyco-sub004/internal/chain"
	"github.com/MAF2414/kyco-sub004/internal/config"
	"github.com/MAF2414/kyco-sub004/internal/executor"
	"github.com/MAF2414/kyco-sub004/internal/job"
	"github.com/MAF2414/kyco-sub004/internal/kerrors"
	"github.com/MAF2414/kyco-sub004/internal/permission"
	"github.com/MAF2414/kyco-sub004/internal/worktree"
)

// APIHandlers holds every dependency a Control Plane route needs.
type APIHandlers struct {
	jobs        *job.Manager
	defs        *config.DefinitionsStore
	cfg         *config.Store
	executor    *executor.Executor
	chainEngine *chain.Engine
	worktrees   *worktree.Manager
	permissions *permission.Broker
	bridge      *bridge.Client

	chainRuns *chainRunRegistry
}

// NewAPIHandlers builds the handler set. worktrees/permissions/bridge may be
// nil in a prompt-only deployment with no git integration.
func NewAPIHandlers(
	jobs *job.Manager,
	defs *config.DefinitionsStore,
	cfg *config.Store,
	ex *executor.Executor,
	chainEngine *chain.Engine,
	worktrees *worktree.Manager,
	permissions *permission.Broker,
	bridgeClient *bridge.Client,
) *APIHandlers {
	return &APIHandlers{
		jobs:        jobs,
		defs:        defs,
		cfg:         cfg,
		executor:    ex,
		chainEngine: chainEngine,
		worktrees:   worktrees,
		permissions: permissions,
		bridge:      bridgeClient,
		chainRuns:   newChainRunRegistry(),
	}
}

// RegisterRoutes mounts every Control Plane endpoint from spec §4.2 onto
// router, protecting everything but /health behind the shared-secret
// middleware when one is configured.
func (h *APIHandlers) RegisterRoutes(router *gin.RouterGroup) {
	if token := h.cfg.Get().ControlPlane.Token; token != "" {
		router.Use(h.authenticate(token))
	}

	router.POST("/selection", h.handleSelection)
	router.POST("/batch", h.handleBatch)

	ctl := router.Group("/ctl")
	h.registerJobRoutes(ctl.Group("/jobs"))
	h.registerPermissionRoutes(ctl.Group("/permissions"))
	ctl.POST("/config/reload", h.reloadConfig)
	ctl.POST("/log", h.appendLog)
}

// authenticate enforces spec §4.2's X-KYCO-Token shared-secret check,
// grounded on the teacher's Authorization-header middleware
// (internal/auth/middleware.go Authenticate), adapted to KYCo's own header
// and plain-token (no Bearer prefix, no OAuth) comparison.
func (h *APIHandlers) authenticate(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-KYCO-Token") != token {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid X-KYCO-Token"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// writeError maps a kerrors-wrapped error to the HTTP status spec §4.2
// requires: 404/409/400/500.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, kerrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, kerrors.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, kerrors.ErrConfig):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseJobID(c *gin.Context) (job.ID, error) {
	n, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0, err
	}
	return job.ID(n), nil
}
