package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/MAF2414/kyco-sub004/internal/bridge"
	"github.com/MAF2414/kyco-sub004/internal/logging"
)

// ptyBufferCap bounds the terminal scrollback kept per session for REPL
// continuation (spec §4.3: "captures output into a bounded terminal
// buffer").
const ptyBufferCap = 64 * 1024

// PTYAdapter runs agents that require a real TTY (spec §4.3), using
// github.com/creack/pty — grounded on the retrieval pack's buildkite-agent
// use of the same library for its bootstrap shell.
type PTYAdapter struct {
	sessions *sessionRegistry

	mu      sync.Mutex
	ptys    map[string]*ptySession
}

type ptySession struct {
	f      io.ReadWriteCloser
	buffer []byte
}

// NewPTYAdapter creates a PTY adapter.
func NewPTYAdapter() *PTYAdapter {
	return &PTYAdapter{
		sessions: newSessionRegistry(),
		ptys:     make(map[string]*ptySession),
	}
}

func (a *PTYAdapter) Kind() AdapterKind { return AdapterPTY }

func (a *PTYAdapter) Run(ctx context.Context, req RunRequest) (<-chan bridge.StreamItem, error) {
	_, binary := resolveAdapterKind(req.AgentID)
	if binary == "" {
		return nil, fmt.Errorf("pty adapter: empty agent binary name")
	}

	cmd := exec.Command(binary, "-p", req.Prompt)
	cmd.Dir = req.WorkspacePath
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("pty adapter: start %s: %w", binary, err)
	}

	sessionID := a.sessions.newSessionID()
	a.sessions.register(sessionID, cmd.Process)
	a.mu.Lock()
	a.ptys[sessionID] = &ptySession{f: ptmx}
	a.mu.Unlock()

	out := make(chan bridge.StreamItem, 16)
	exited := make(chan struct{})

	go func() {
		<-ctx.Done()
		gracefulStop(cmd.Process, exited)
	}()

	go func() {
		defer close(out)
		defer close(exited)
		defer func() {
			a.sessions.unregister(sessionID)
			a.mu.Lock()
			delete(a.ptys, sessionID)
			a.mu.Unlock()
			_ = ptmx.Close()
		}()

		out <- bridge.StreamItem{Event: bridge.Event{
			Type: bridge.EventSessionStart, SessionID: sessionID, Timestamp: uint64(time.Now().UnixMilli()),
		}}

		scanner := bufio.NewScanner(ptmx)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			a.appendBuffer(sessionID, line)
			out <- bridge.StreamItem{Event: bridge.Event{
				Type: bridge.EventText, SessionID: sessionID, Timestamp: uint64(time.Now().UnixMilli()), Text: line,
			}}
		}
		if err := scanner.Err(); err != nil {
			logging.Warn("pty adapter %s: reading pty: %v", binary, err)
		}

		waitErr := cmd.Wait()
		out <- bridge.StreamItem{Event: bridge.Event{
			Type: bridge.EventSessionComplete, SessionID: sessionID, Timestamp: uint64(time.Now().UnixMilli()),
			Success: waitErr == nil,
		}}
	}()

	return out, nil
}

func (a *PTYAdapter) appendBuffer(sessionID, line string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.ptys[sessionID]
	if !ok {
		return
	}
	s.buffer = append(s.buffer, line...)
	s.buffer = append(s.buffer, '\n')
	if len(s.buffer) > ptyBufferCap {
		s.buffer = s.buffer[len(s.buffer)-ptyBufferCap:]
	}
}

// Buffer returns the bounded scrollback captured for a session so far.
func (a *PTYAdapter) Buffer(sessionID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.ptys[sessionID]
	if !ok {
		return ""
	}
	return string(s.buffer)
}

// SendInput writes data to a session's pty, used for REPL continuation
// (spec §4.3: "exposes input for REPL continuation").
func (a *PTYAdapter) SendInput(sessionID string, data string) error {
	a.mu.Lock()
	s, ok := a.ptys[sessionID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("pty adapter: no live session %s", sessionID)
	}
	_, err := s.f.Write([]byte(data))
	return err
}

func (a *PTYAdapter) Interrupt(ctx context.Context, req RunRequest) error {
	proc, ok := a.sessions.lookup(req.SessionID)
	if !ok {
		return nil
	}
	if err := proc.Signal(syscall.SIGINT); err != nil {
		return fmt.Errorf("pty adapter: interrupt %s: %w", req.SessionID, err)
	}
	go func() {
		time.Sleep(interruptGrace)
		if p, stillRunning := a.sessions.lookup(req.SessionID); stillRunning {
			_ = p.Kill()
		}
	}()
	return nil
}
