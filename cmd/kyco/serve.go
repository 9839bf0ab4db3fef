package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/MAF2414/kyco-sub004/internal/api"
	"github.com/MAF2414/kyco-sub004/internal/bridge"
	"github.com/MAF2414/kyco-sub004/internal/chain"
	"github.com/MAF2414/kyco-sub004/internal/executor"
	"github.com/MAF2414/kyco-sub004/internal/job"
	"github.com/MAF2414/kyco-sub004/internal/logging"
	"github.com/MAF2414/kyco-sub004/internal/permission"
	"github.com/MAF2414/kyco-sub004/internal/stats"
	"github.com/MAF2414/kyco-sub004/internal/worktree"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Control Plane and Agent Executor",
	Long:  "Start the Job Manager, Agent Executor, Chain Engine, and Control Plane HTTP server, blocking until interrupted.",
	RunE:  runServe,
}

// runServe wires every core component together (job manager, worktrees,
// bridge, permissions, stats, executor, chain engine, sweeper, API server),
// then blocks on SIGINT/SIGTERM, grounded on
// the teacher's runMainServer's wg.Wait-behind-signal.Notify shutdown
// (cloudshipai-station/cmd/main/server.go).
func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := cfgStore.Get()

	jobs := job.NewManager()

	root, err := worktree.FindGitRoot(ctx, ".")
	var worktrees *worktree.Manager
	if err != nil {
		logging.Warn("not running inside a git repository, worktrees disabled: %v", err)
	} else {
		worktreeOverride := cfg.Worktree.RootOverride
		if worktreeOverride != "" {
			root = worktreeOverride
		}
		worktrees, err = worktree.NewManager(root)
		if err != nil {
			return fmt.Errorf("init worktree manager: %w", err)
		}
	}

	bridgeClient := bridge.NewClient(cfg.Bridge.URL, "")
	binPath, err := bridge.ResolveBinary(bridge.SidecarConfig{BinaryPathEnv: cfg.Bridge.BinaryPathEnv})
	if err != nil {
		logging.Warn("bridge sidecar binary not found, the bridge adapter will fail until one is reachable: %v", err)
	} else {
		supervisor := bridge.NewSupervisor(bridgeClient, binPath)
		if err := supervisor.EnsureRunning(ctx); err != nil {
			logging.Warn("bridge sidecar did not start: %v", err)
		} else {
			defer supervisor.Shutdown()
		}
	}

	permissions := permission.NewBroker(bridgeClient)

	db, err := stats.Open(cfg.Stats.DBPath)
	if err != nil {
		return fmt.Errorf("open stats db: %w", err)
	}
	defer db.Close()
	recorder := stats.NewRecorder(db)

	ex := executor.New(jobs, worktrees, defsStore, bridgeClient, permissions, recorder, cfg.Executor.MaxConcurrentJobs)
	ex.Start(ctx)

	chainEngine := chain.New(jobs, defsStore)

	var sweeper *cron.Cron
	if cfg.Scheduler.Enabled {
		sweeper = cron.New()
		if _, err := sweeper.AddFunc(cfg.Scheduler.ClearFinishedCron, func() {
			n := jobs.ClearFinished()
			if n > 0 {
				logging.Info("scheduler: cleared %d finished jobs", n)
			}
		}); err != nil {
			return fmt.Errorf("schedule clear-finished sweep: %w", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	server := api.New(cfgStore, jobs, defsStore, ex, chainEngine, worktrees, permissions, bridgeClient)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	fmt.Printf("kyco is running: control plane on %s:%d\n", cfg.ControlPlane.BindAddr, cfg.ControlPlane.Port)
	fmt.Println("press Ctrl+C to stop")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("control plane server: %w", err)
	case <-sig:
		fmt.Println("\nshutting down...")
	}

	cancel()
	ex.Wait()
	time.Sleep(100 * time.Millisecond)
	return nil
}
