package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/MAF2414/kyco-sub004/internal/bridge"
	"github.com/MAF2414/kyco-sub004/internal/kerrors"
)

// TerminalAdapter launches the agent in an external Terminal.app window
// (macOS only, spec §4.3) and monitors liveness via a PID file the
// launched shell writes on startup, since there is no direct process
// handle to an externally-windowed process.
type TerminalAdapter struct {
	pidFileDir string
}

// NewTerminalAdapter creates a terminal adapter writing PID files under dir
// (os.TempDir() if empty).
func NewTerminalAdapter(dir string) *TerminalAdapter {
	if dir == "" {
		dir = os.TempDir()
	}
	return &TerminalAdapter{pidFileDir: dir}
}

func (a *TerminalAdapter) Kind() AdapterKind { return AdapterTerminal }

func (a *TerminalAdapter) pidFile(sessionID string) string {
	return filepath.Join(a.pidFileDir, "kyco-terminal-"+sessionID+".pid")
}

func (a *TerminalAdapter) Run(ctx context.Context, req RunRequest) (<-chan bridge.StreamItem, error) {
	if runtime.GOOS != "darwin" {
		return nil, fmt.Errorf("terminal adapter requires macOS: %w", kerrors.ErrInvalidState)
	}
	_, binary := resolveAdapterKind(req.AgentID)
	if binary == "" {
		return nil, fmt.Errorf("terminal adapter: empty agent binary name")
	}

	sessionID := fmt.Sprintf("term-%d", time.Now().UnixNano())
	pidPath := a.pidFile(sessionID)

	// The launched shell records its own PID, runs the agent, then exits;
	// the PID file is how Run's poll loop and Interrupt both observe
	// liveness of a process with no direct parent/child relationship to us.
	script := fmt.Sprintf(
		`echo $$ > %q; cd %q && %s -p %q; rm -f %q`,
		pidPath, req.WorkspacePath, binary, req.Prompt, pidPath,
	)
	appleScript := fmt.Sprintf(`tell application "Terminal" to do script %s`, quoteForOSAScript(script))
	if err := exec.CommandContext(ctx, "osascript", "-e", appleScript).Run(); err != nil {
		return nil, fmt.Errorf("terminal adapter: launch Terminal.app: %w", err)
	}

	out := make(chan bridge.StreamItem, 4)
	go func() {
		defer close(out)
		out <- bridge.StreamItem{Event: bridge.Event{
			Type: bridge.EventSessionStart, SessionID: sessionID, Timestamp: uint64(time.Now().UnixMilli()),
		}}

		const pollInterval = 500 * time.Millisecond
		sawPID := false
		for {
			select {
			case <-ctx.Done():
				out <- bridge.StreamItem{Event: bridge.Event{
					Type: bridge.EventSessionComplete, SessionID: sessionID, Timestamp: uint64(time.Now().UnixMilli()),
				}}
				return
			case <-time.After(pollInterval):
			}
			if _, err := os.Stat(pidPath); err == nil {
				sawPID = true
				continue
			}
			if sawPID {
				out <- bridge.StreamItem{Event: bridge.Event{
					Type: bridge.EventSessionComplete, SessionID: sessionID, Timestamp: uint64(time.Now().UnixMilli()), Success: true,
				}}
				return
			}
		}
	}()

	return out, nil
}

// Interrupt reads the PID file and kills that single process (no SIGINT
// grace period, no process-group signal), then removes the PID file so
// liveness polling stops.
func (a *TerminalAdapter) Interrupt(ctx context.Context, req RunRequest) error {
	pidPath := a.pidFile(req.SessionID)
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return nil // already gone
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("terminal adapter: malformed pid file %s: %w", pidPath, err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("terminal adapter: kill pid %d: %w", pid, err)
	}
	_ = os.Remove(pidPath)
	return nil
}

// quoteForOSAScript wraps s as a double-quoted AppleScript string literal,
// escaping embedded quotes and backslashes.
func quoteForOSAScript(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}
