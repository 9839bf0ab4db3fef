package bridge

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/cenkalti/backoff/v4"

	"github.com/MAF2414/kyco-sub004/internal/kerrors"
	"github.com/MAF2414/kyco-sub004/internal/logging"
)

// SidecarConfig controls where the bridge binary is found and how it is
// supervised (spec §4.4 "Sidecar lifecycle").
type SidecarConfig struct {
	// BinaryPathEnv, if set, names an environment variable holding an
	// explicit path to the bridge executable.
	BinaryPathEnv string
	// ExecutableDir is the directory of the running kyco binary, checked
	// second.
	ExecutableDir string
}

// ResolveBinary finds the bridge executable following spec §4.4's path
// resolution order: explicit env var, then beside the executable, then
// ~/.kyco/bridge, then the XDG data dir's kyco/bridge, then cwd.
func ResolveBinary(cfg SidecarConfig) (string, error) {
	if cfg.BinaryPathEnv != "" {
		if p := os.Getenv(cfg.BinaryPathEnv); p != "" {
			if fileExists(p) {
				return p, nil
			}
		}
	}
	if cfg.ExecutableDir != "" {
		candidate := filepath.Join(cfg.ExecutableDir, "kyco-bridge")
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	home, err := os.UserHomeDir()
	if err == nil {
		candidate := filepath.Join(home, ".kyco", "bridge", "kyco-bridge")
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	candidate := filepath.Join(xdg.DataHome, "kyco", "bridge", "kyco-bridge")
	if fileExists(candidate) {
		return candidate, nil
	}
	cwd, err := os.Getwd()
	if err == nil {
		candidate := filepath.Join(cwd, "kyco-bridge")
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("bridge binary not found in any of the configured locations: %w", kerrors.ErrConfig)
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// Supervisor owns the sidecar subprocess lifecycle: spawn-on-first-use,
// health probing, and kill-on-shutdown. It is safe for concurrent use.
type Supervisor struct {
	mu      sync.Mutex
	client  *Client
	cmd     *exec.Cmd
	binPath string
}

// NewSupervisor wires a Supervisor around an already-constructed Client.
func NewSupervisor(client *Client, binPath string) *Supervisor {
	return &Supervisor{client: client, binPath: binPath}
}

// EnsureRunning probes health; if unhealthy, it spawns the sidecar and
// re-probes /health with exponential backoff (200ms initial interval,
// capped at 700ms) for up to ~3.5s in total, so a slow-starting process
// still gets several probes before the deadline.
func (s *Supervisor) EnsureRunning(ctx context.Context) error {
	if _, err := s.client.Health(ctx); err == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil && s.cmd.Process != nil {
		if _, err := s.client.Health(ctx); err == nil {
			return nil
		}
	}

	logging.Info("bridge sidecar not healthy, spawning %s", s.binPath)
	cmd := exec.CommandContext(context.Background(), s.binPath)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn bridge sidecar: %w: %w", kerrors.ErrTransport, err)
	}
	s.cmd = cmd

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 700 * time.Millisecond
	bo.MaxElapsedTime = 3500 * time.Millisecond

	op := func() error {
		_, err := s.client.Health(ctx)
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("bridge sidecar did not become healthy: %w: %w", kerrors.ErrTimeout, err)
	}
	return nil
}

// Shutdown terminates the sidecar process if this Supervisor spawned one.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	err := s.cmd.Process.Kill()
	_, _ = s.cmd.Process.Wait()
	s.cmd = nil
	return err
}
