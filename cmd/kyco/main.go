// Command kyco is the KYCo desktop orchestrator: it hosts the Control
// Plane HTTP server and drives Agent Executor/Chain Engine dispatch from
// the CLI, grounded on cloudshipai-station's cmd/main cobra root (persistent
// --config flag, cobra.OnInitialize hooks, one var block of subcommands).
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"github.com/MAF2414/kyco-sub004/internal/config"
	"github.com/MAF2414/kyco-sub004/internal/logging"
)

var (
	cfgFile   string
	debugMode bool

	cfgStore  *config.Store
	defsStore *config.DefinitionsStore

	rootCmd = &cobra.Command{
		Use:   "kyco",
		Short: "KYCo - local orchestrator for AI coding agents",
		Long: `KYCo runs AI coding agents (Claude, Codex) against a local git
repository: it creates an isolated worktree per job, dispatches the agent
through a sidecar bridge or its CLI directly, and exposes a local Control
Plane HTTP API for IDE/editor integration.`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/kyco/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(jobCmd)

	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobGetCmd)
	jobCmd.AddCommand(jobCreateCmd)
	jobCmd.AddCommand(jobQueueCmd)
	jobCmd.AddCommand(jobAbortCmd)
	jobCmd.AddCommand(jobContinueCmd)
	jobCmd.AddCommand(jobDiffCmd)
	jobCmd.AddCommand(jobOutputCmd)
	jobCmd.AddCommand(jobMergeCmd)
	jobCmd.AddCommand(jobRejectCmd)
	jobCmd.AddCommand(jobDeleteCmd)
	jobCmd.AddCommand(jobWaitCmd)
}

// initConfig loads the Config and Definitions stores once flags are
// parsed, mirroring the teacher's cobra.OnInitialize(initConfig) hook.
func initConfig() {
	logging.Initialize(debugMode)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kyco: load config: %v\n", err)
		os.Exit(1)
	}
	cfgStore = config.NewStore(cfg, cfgFile)

	defsStore, err = config.NewDefinitionsStore(modesAndChainsPath(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "kyco: load definitions: %v\n", err)
		os.Exit(1)
	}
}

// modesAndChainsPath resolves the single definitions file a
// DefinitionsStore loads from. KYCo's mode and chain definitions share
// one YAML document (internal/config.Definitions), so ModesFile is the
// canonical path; ChainsFile is kept in Config for callers that split
// them across two files by hand and merge before pointing kyco at one.
func modesAndChainsPath(cfg *config.Config) string {
	if cfg.ModesFile != "" {
		return cfg.ModesFile
	}
	return filepath.Join(xdg.ConfigHome, "kyco", "modes.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
