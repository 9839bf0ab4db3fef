// Package config loads KYCo's configuration: a viper-backed Config struct
// (grounded on cloudshipai-station/internal/config/config.go's
// struct-of-structs-with-yaml-tags shape) plus XDG path resolution
// (github.com/adrg/xdg, as in the teacher's go.mod) and a hot-reloadable
// mode/chain definitions file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/MAF2414/kyco-sub004/internal/kerrors"
)

// ControlPlaneConfig configures the local HTTP server (spec §4.2).
type ControlPlaneConfig struct {
	BindAddr string `yaml:"bind_addr" mapstructure:"bind_addr"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Token    string `yaml:"token" mapstructure:"token"`
}

// BridgeConfig configures the agent sidecar client (spec §4.4).
type BridgeConfig struct {
	URL            string        `yaml:"url" mapstructure:"url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	BinaryPathEnv  string        `yaml:"binary_path_env" mapstructure:"binary_path_env"`
}

// ExecutorConfig configures the Agent Executor's concurrency cap (spec §4.3/I3).
type ExecutorConfig struct {
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs" mapstructure:"max_concurrent_jobs"`
}

// WorktreeConfig configures the Git Worktree Manager (spec §4.6).
type WorktreeConfig struct {
	RootOverride string `yaml:"root_override" mapstructure:"root_override"`
}

// StatsConfig configures the Stats Recorder (spec §4.7).
type StatsConfig struct {
	DBPath string `yaml:"db_path" mapstructure:"db_path"`
}

// SchedulerConfig controls the optional periodic "clear finished" sweep.
type SchedulerConfig struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	ClearFinishedCron string `yaml:"clear_finished_cron" mapstructure:"clear_finished_cron"`
}

// Config is KYCo's top-level configuration.
type Config struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	ControlPlane ControlPlaneConfig `yaml:"control_plane" mapstructure:"control_plane"`
	Bridge       BridgeConfig       `yaml:"bridge" mapstructure:"bridge"`
	Executor     ExecutorConfig     `yaml:"executor" mapstructure:"executor"`
	Worktree     WorktreeConfig     `yaml:"worktree" mapstructure:"worktree"`
	Stats        StatsConfig        `yaml:"stats" mapstructure:"stats"`
	Scheduler    SchedulerConfig    `yaml:"scheduler" mapstructure:"scheduler"`

	// ModesFile and ChainsFile point at the YAML definitions loaded by
	// Definitions (hot-reloadable via POST /ctl/config/reload).
	ModesFile  string `yaml:"modes_file" mapstructure:"modes_file"`
	ChainsFile string `yaml:"chains_file" mapstructure:"chains_file"`
}

// Default returns a Config with XDG-resolved paths and the spec's default
// concurrency/timeout values.
func Default() *Config {
	dataHome := filepath.Join(xdg.DataHome, "kyco")
	return &Config{
		ControlPlane: ControlPlaneConfig{BindAddr: "127.0.0.1", Port: 17900},
		Bridge: BridgeConfig{
			URL:            "http://127.0.0.1:17432",
			ConnectTimeout: 5 * time.Second,
			ReadTimeout:    300 * time.Second,
			BinaryPathEnv:  "KYCO_BRIDGE_PATH",
		},
		Executor: ExecutorConfig{MaxConcurrentJobs: 4},
		Stats:    StatsConfig{DBPath: filepath.Join(dataHome, "stats.db")},
		Scheduler: SchedulerConfig{
			Enabled:           false,
			ClearFinishedCron: "@every 1h",
		},
		ModesFile:  filepath.Join(dataHome, "modes.yaml"),
		ChainsFile: filepath.Join(dataHome, "chains.yaml"),
	}
}

// Load reads configuration from path (if non-empty) or the XDG config
// search path (~/.config/kyco/config.yaml and ./kyco.yaml), overlaying it
// onto Default()'s values. Missing files are not an error: Default()'s
// values are used as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, "kyco"))
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("KYCO")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return cfg, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		if path != "" {
			return nil, fmt.Errorf("load config %s: %w: %w", path, kerrors.ErrConfig, err)
		}
		return cfg, nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w: %w", kerrors.ErrConfig, err)
	}
	return cfg, nil
}

// Store holds the live Config behind a reader-writer lock, matching spec
// §5's "the config is held under a reader-writer lock" and exposing the
// POST /ctl/config/reload entry point.
type Store struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewStore wraps an initial Config for concurrent access.
func NewStore(cfg *Config, path string) *Store {
	return &Store{cfg: cfg, path: path}
}

// Get returns the current Config. Callers must not mutate the result.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Reload re-reads the config file this Store was constructed with and
// swaps it in atomically.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}
