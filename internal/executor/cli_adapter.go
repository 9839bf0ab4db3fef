package executor

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/MAF2414/kyco-sub004/internal/bridge"
	"github.com/MAF2414/kyco-sub004/internal/logging"
)

// CLIAdapter spawns the agent's CLI binary with stdout/stderr piped and
// parses each line as either a tagged BridgeEvent (if the CLI happens to
// emit NDJSON, like the Bridge does) or plain text (spec §4.3). Grounded
// on the teacher's subprocess-backend shape
// (internal/coding/claudecode_backend.go), generalized from a single
// fixed binary to whatever agent name follows the "cli:" prefix.
type CLIAdapter struct {
	sessions *sessionRegistry
}

// NewCLIAdapter creates a CLI adapter.
func NewCLIAdapter() *CLIAdapter {
	return &CLIAdapter{sessions: newSessionRegistry()}
}

func (a *CLIAdapter) Kind() AdapterKind { return AdapterCLI }

// Run spawns `<agent> -p <prompt>` in req.WorkspacePath. The convention of
// a single `-p` prompt flag matches the shape of the real Claude/Codex CLI
// entry points this adapter stands in for.
func (a *CLIAdapter) Run(ctx context.Context, req RunRequest) (<-chan bridge.StreamItem, error) {
	_, binary := resolveAdapterKind(req.AgentID)
	if binary == "" {
		return nil, fmt.Errorf("cli adapter: empty agent binary name")
	}

	cmd := exec.Command(binary, "-p", req.Prompt)
	cmd.Dir = req.WorkspacePath
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("cli adapter: stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("cli adapter: start %s: %w", binary, err)
	}

	sessionID := a.sessions.newSessionID()
	a.sessions.register(sessionID, cmd.Process)

	out := make(chan bridge.StreamItem, 16)
	exited := make(chan struct{})

	go func() {
		<-ctx.Done()
		gracefulStop(cmd.Process, exited)
	}()

	go func() {
		defer close(out)
		defer close(exited)
		defer a.sessions.unregister(sessionID)

		out <- bridge.StreamItem{Event: bridge.Event{
			Type: bridge.EventSessionStart, SessionID: sessionID, Timestamp: uint64(time.Now().UnixMilli()),
		}}

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			if e, known, perr := bridge.ParseEvent([]byte(line)); perr == nil && known {
				out <- bridge.StreamItem{Event: e}
				continue
			}
			out <- bridge.StreamItem{Event: bridge.Event{
				Type: bridge.EventText, SessionID: sessionID, Timestamp: uint64(time.Now().UnixMilli()), Text: line,
			}}
		}
		if err := scanner.Err(); err != nil {
			logging.Warn("cli adapter %s: reading stdout: %v", binary, err)
		}

		waitErr := cmd.Wait()
		out <- bridge.StreamItem{Event: bridge.Event{
			Type: bridge.EventSessionComplete, SessionID: sessionID, Timestamp: uint64(time.Now().UnixMilli()),
			Success: waitErr == nil,
		}}
	}()

	return out, nil
}

// Interrupt sends SIGINT to the process backing req.SessionID and
// escalates to SIGKILL after interruptGrace if it is still registered
// (i.e. Run's wait loop has not yet observed it exit).
func (a *CLIAdapter) Interrupt(ctx context.Context, req RunRequest) error {
	proc, ok := a.sessions.lookup(req.SessionID)
	if !ok {
		return nil
	}
	if err := proc.Signal(syscall.SIGINT); err != nil {
		return fmt.Errorf("cli adapter: interrupt %s: %w", req.SessionID, err)
	}
	go func() {
		time.Sleep(interruptGrace)
		if p, stillRunning := a.sessions.lookup(req.SessionID); stillRunning {
			_ = p.Kill()
		}
	}()
	return nil
}
