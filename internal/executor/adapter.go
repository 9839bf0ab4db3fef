// Package executor implements the Agent Executor (spec §4.3): the
// dispatch loop that promotes Queued jobs to Running under a concurrency
// cap, resolves each job to one of four adapter kinds, forwards the
// resulting event stream to subscribers/stats/the Job Manager, and
// harvests the terminal outcome. Grounded on the teacher's
// agent_execution_engine.go (span-per-execution, tool-loop event
// handling) and internal/coding/claudecode_backend.go (subprocess
// adapter shape), adapted to KYCo's bridge-first, multi-adapter design.
package executor

import (
	"context"
	"strings"

	"github.com/MAF2414/kyco-sub004/internal/bridge"
)

// AdapterKind names which of the four dispatch strategies a job uses
// (spec §4.3).
type AdapterKind string

const (
	AdapterBridge   AdapterKind = "bridge"
	AdapterCLI      AdapterKind = "cli"
	AdapterPTY      AdapterKind = "pty"
	AdapterTerminal AdapterKind = "terminal"
)

// RunRequest is everything an Adapter needs to start or continue a run.
// SessionID is empty on a fresh run; the Executor fills it in from the
// job's BridgeSessionID for continue_session.
type RunRequest struct {
	AgentID        string
	Prompt         string
	SessionID      string
	WorkspacePath  string
	PermissionMode bridge.PermissionMode
}

// Adapter runs one agent invocation and streams its events back as
// bridge.StreamItem, the same currency the Bridge Client itself uses so
// downstream handling (forwarding, stats, result parsing) is adapter-
// agnostic.
type Adapter interface {
	Kind() AdapterKind
	Run(ctx context.Context, req RunRequest) (<-chan bridge.StreamItem, error)
	Interrupt(ctx context.Context, req RunRequest) error
}

// resolveAdapterKind maps a job's agent_id to an AdapterKind and the
// underlying agent name, using a "<kind>:<agent>" naming convention
// ("claude", "codex" alone mean the Bridge adapter; "cli:claude-cli",
// "pty:aider", "terminal:codex" select the others).
func resolveAdapterKind(agentID string) (AdapterKind, string) {
	if rest, ok := strings.CutPrefix(agentID, "cli:"); ok {
		return AdapterCLI, rest
	}
	if rest, ok := strings.CutPrefix(agentID, "pty:"); ok {
		return AdapterPTY, rest
	}
	if rest, ok := strings.CutPrefix(agentID, "terminal:"); ok {
		return AdapterTerminal, rest
	}
	return AdapterBridge, agentID
}
