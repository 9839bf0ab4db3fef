// Package api is the Control Plane's HTTP front door (spec §4.2): a gin
// router bound to 127.0.0.1 protected by an optional shared-secret header,
// grounded on cloudshipai-station/internal/api/api.go's Server/Start shape
// (minus the embedded UI, which KYCo has no equivalent of).
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	v1 "github.com/MAF2414/kyco-sub004/internal/api/v1"
	"github.com/MAF2414/kyco-sub004/internal/bridge"
	"github.com/MAF2414/kyco-sub004/internal/chain"
	"github.com/MAF2414/kyco-sub004/internal/config"
	"github.com/MAF2414/kyco-sub004/internal/executor"
	"github.com/MAF2414/kyco-sub004/internal/job"
	"github.com/MAF2414/kyco-sub004/internal/permission"
	"github.com/MAF2414/kyco-sub004/internal/worktree"
)

// Server hosts the Control Plane.
type Server struct {
	cfg        *config.Store
	handlers   *v1.APIHandlers
	httpServer *http.Server
}

// New wires every core component the v1 handlers call into.
func New(
	cfg *config.Store,
	jobs *job.Manager,
	defs *config.DefinitionsStore,
	ex *executor.Executor,
	chainEngine *chain.Engine,
	worktrees *worktree.Manager,
	permissions *permission.Broker,
	bridgeClient *bridge.Client,
) *Server {
	return &Server{
		cfg:      cfg,
		handlers: v1.NewAPIHandlers(jobs, defs, cfg, ex, chainEngine, worktrees, permissions, bridgeClient),
	}
}

// Start runs the server until ctx is cancelled, then shuts it down
// gracefully. Mirrors the teacher's gin.New + Recovery + graceful-shutdown
// pattern (cloudshipai-station/internal/api/api.go Start).
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfg.Get().ControlPlane

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "kyco"})
	})

	v1Group := router.Group("/")
	s.handlers.RegisterRoutes(v1Group)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
