package permission

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MAF2414/kyco-sub004/internal/bridge"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []bridge.ToolApprovalResponse
}

func (f *fakeSender) SendToolApproval(_ context.Context, resp bridge.ToolApprovalResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, resp)
	return nil
}

func TestCurrentAndPendingOrdering(t *testing.T) {
	s := &fakeSender{}
	b := NewBroker(s)

	b.Enqueue(bridge.ToolApprovalRequest{SessionID: "sess", RequestID: "r1", ToolName: "Bash"})
	b.Enqueue(bridge.ToolApprovalRequest{SessionID: "sess", RequestID: "r2", ToolName: "Read"})

	cur, ok := b.Current("sess")
	require.True(t, ok)
	assert.Equal(t, "r1", cur.RequestID)
	assert.Equal(t, []bridge.ToolApprovalRequest{{SessionID: "sess", RequestID: "r2", ToolName: "Read"}}, b.Pending("sess"))
}

func TestResolveAdvancesQueueAndSends(t *testing.T) {
	s := &fakeSender{}
	b := NewBroker(s)
	b.Enqueue(bridge.ToolApprovalRequest{SessionID: "sess", RequestID: "r1"})
	b.Enqueue(bridge.ToolApprovalRequest{SessionID: "sess", RequestID: "r2"})

	require.NoError(t, b.Resolve(context.Background(), "sess", "r1", Decision{Decision: bridge.DecisionAllow}))

	cur, ok := b.Current("sess")
	require.True(t, ok)
	assert.Equal(t, "r2", cur.RequestID)
	require.Len(t, s.sent, 1)
	assert.Equal(t, bridge.DecisionAllow, s.sent[0].Decision)
}

func TestDismissSynthesizesDenyWithReason(t *testing.T) {
	s := &fakeSender{}
	b := NewBroker(s)
	b.Enqueue(bridge.ToolApprovalRequest{SessionID: "sess", RequestID: "r1"})

	require.NoError(t, b.Dismiss(context.Background(), "sess", "r1"))
	require.Len(t, s.sent, 1)
	assert.Equal(t, bridge.DecisionDeny, s.sent[0].Decision)
	assert.Equal(t, "dismissed", s.sent[0].Reason)
}

func TestWaitUnblocksOnResolve(t *testing.T) {
	s := &fakeSender{}
	b := NewBroker(s)
	b.Enqueue(bridge.ToolApprovalRequest{SessionID: "sess", RequestID: "r1"})

	done := make(chan Decision, 1)
	go func() {
		d, err := b.Wait(context.Background(), "sess", "r1")
		require.NoError(t, err)
		done <- d
	}()

	require.NoError(t, b.Resolve(context.Background(), "sess", "r1", Decision{Decision: bridge.DecisionAllow}))
	d := <-done
	assert.Equal(t, bridge.DecisionAllow, d.Decision)
}
