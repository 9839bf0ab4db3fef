package executor

import (
	"context"
	"strings"

	"github.com/MAF2414/kyco-sub004/internal/bridge"
)

// BridgeAdapter is the preferred adapter (spec §4.3): it formulates a
// ClaudeQueryRequest or CodexQueryRequest and streams events through the
// Bridge Client, which already implements the spec's retry/backoff and
// percent-encoding rules.
type BridgeAdapter struct {
	client *bridge.Client
}

// NewBridgeAdapter wraps client for dispatch.
func NewBridgeAdapter(client *bridge.Client) *BridgeAdapter {
	return &BridgeAdapter{client: client}
}

func (a *BridgeAdapter) Kind() AdapterKind { return AdapterBridge }

func isCodex(agentID string) bool {
	return strings.HasPrefix(strings.ToLower(agentID), "codex")
}

// Run opens a claude/query or codex/query stream. The returned channel is
// closed once ctx is cancelled or the stream ends; Run itself owns
// closing the HTTP response body.
func (a *BridgeAdapter) Run(ctx context.Context, req RunRequest) (<-chan bridge.StreamItem, error) {
	done := make(chan struct{})
	var (
		items   <-chan bridge.StreamItem
		closeFn func() error
		err     error
	)
	if isCodex(req.AgentID) {
		items, closeFn, err = a.client.CodexQuery(ctx, bridge.CodexQueryRequest{
			Prompt:   req.Prompt,
			Cwd:      req.WorkspacePath,
			ThreadID: req.SessionID,
		}, done)
	} else {
		items, closeFn, err = a.client.ClaudeQuery(ctx, bridge.ClaudeQueryRequest{
			Prompt:         req.Prompt,
			Cwd:            req.WorkspacePath,
			SessionID:      req.SessionID,
			PermissionMode: req.PermissionMode,
		}, done)
	}
	if err != nil {
		close(done)
		return nil, err
	}
	go func() {
		<-ctx.Done()
		close(done)
		if closeFn != nil {
			_ = closeFn()
		}
	}()
	return items, nil
}

// Interrupt soft-interrupts the live session via the bridge's
// interrupt endpoint (spec §5: "Bridge adapter calls the bridge's
// interrupt/{session}").
func (a *BridgeAdapter) Interrupt(ctx context.Context, req RunRequest) error {
	if req.SessionID == "" {
		return nil
	}
	if isCodex(req.AgentID) {
		return a.client.InterruptCodex(ctx, req.SessionID)
	}
	return a.client.InterruptClaude(ctx, req.SessionID)
}
