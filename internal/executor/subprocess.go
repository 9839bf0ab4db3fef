package executor

import (
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// interruptGrace is how long the CLI/PTY adapters wait after SIGINT
// before escalating to SIGKILL (spec §5: "CLI/PTY adapters send SIGINT
// then SIGKILL after a short grace period").
const interruptGrace = 3 * time.Second

// gracefulStop sends SIGINT to proc and escalates to Kill if exited is not
// closed within interruptGrace. Safe to call once the process has already
// exited: the signal/kill calls are best-effort and their errors ignored.
func gracefulStop(proc *os.Process, exited <-chan struct{}) {
	if proc == nil {
		return
	}
	_ = proc.Signal(syscall.SIGINT)
	select {
	case <-exited:
	case <-time.After(interruptGrace):
		_ = proc.Kill()
	}
}

// sessionRegistry tracks the live *os.Process for each adapter-assigned
// session id, so Interrupt (called with only a RunRequest) can find the
// process to signal. Session ids for non-Bridge adapters are generated
// locally with google/uuid since there is no remote session concept.
type sessionRegistry struct {
	mu    sync.Mutex
	procs map[string]*os.Process
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{procs: make(map[string]*os.Process)}
}

func (r *sessionRegistry) newSessionID() string {
	return uuid.NewString()
}

func (r *sessionRegistry) register(sessionID string, proc *os.Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[sessionID] = proc
}

func (r *sessionRegistry) unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, sessionID)
}

func (r *sessionRegistry) lookup(sessionID string) (*os.Process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[sessionID]
	return p, ok
}
