// Package permission implements the Permission Broker (spec §4.8): a
// per-session queue of pending tool-approval requests the UI resolves one
// at a time. Grounded on original_source's bridge approval types plus the
// teacher's mutex-guarded service pattern (internal/services/execution_queue.go).
package permission

import (
	"context"
	"fmt"
	"sync"

	"github.com/MAF2414/kyco-sub004/internal/bridge"
	"github.com/MAF2414/kyco-sub004/internal/kerrors"
	"github.com/MAF2414/kyco-sub004/internal/logging"
)

// Decision is a resolved verdict on a PermissionRequest.
type Decision struct {
	Decision      bridge.ToolDecision
	Reason        string
	ModifiedInput map[string]any
}

// Sender delivers a resolved decision back to the bridge. bridge.Client
// satisfies this directly via SendToolApproval.
type Sender interface {
	SendToolApproval(ctx context.Context, resp bridge.ToolApprovalResponse) error
}

// pending tracks one queued request plus the channel its resolver blocks on.
type pendingRequest struct {
	req     bridge.ToolApprovalRequest
	resolve chan Decision
}

// Broker buffers tool.approval_needed events per session and exposes a
// current + pending queue to the UI.
type Broker struct {
	mu       sync.Mutex
	sender   Sender
	sessions map[string]*sessionQueue
	byID     map[string]*pendingRequest // requestID -> request, kept until DropSession
}

type sessionQueue struct {
	current *pendingRequest
	pending []*pendingRequest
}

// NewBroker creates an empty broker delivering decisions through sender.
func NewBroker(sender Sender) *Broker {
	return &Broker{
		sender:   sender,
		sessions: make(map[string]*sessionQueue),
		byID:     make(map[string]*pendingRequest),
	}
}

// Enqueue buffers a newly observed approval request, making it "current"
// for its session if none is outstanding.
func (b *Broker) Enqueue(req bridge.ToolApprovalRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.sessions[req.SessionID]
	if q == nil {
		q = &sessionQueue{}
		b.sessions[req.SessionID] = q
	}
	pr := &pendingRequest{req: req, resolve: make(chan Decision, 1)}
	b.byID[req.RequestID] = pr
	if q.current == nil {
		q.current = pr
	} else {
		q.pending = append(q.pending, pr)
	}
	logging.Event("permission", "approval request queued", logging.Fields{
		"session_id": req.SessionID, "request_id": req.RequestID, "tool": req.ToolName,
	})
}

// Current returns the request currently presented to the user for a
// session, if any.
func (b *Broker) Current(sessionID string) (bridge.ToolApprovalRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.sessions[sessionID]
	if q == nil || q.current == nil {
		return bridge.ToolApprovalRequest{}, false
	}
	return q.current.req, true
}

// Pending lists the queued-but-not-current requests for a session.
func (b *Broker) Pending(sessionID string) []bridge.ToolApprovalRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.sessions[sessionID]
	if q == nil {
		return nil
	}
	out := make([]bridge.ToolApprovalRequest, 0, len(q.pending))
	for _, p := range q.pending {
		out = append(out, p.req)
	}
	return out
}

// Resolve applies the user's decision to the current request of a session,
// POSTs it to the bridge, and advances the next pending request to current.
func (b *Broker) Resolve(ctx context.Context, sessionID, requestID string, d Decision) error {
	b.mu.Lock()
	q := b.sessions[sessionID]
	if q == nil || q.current == nil || q.current.req.RequestID != requestID {
		b.mu.Unlock()
		return fmt.Errorf("permission request %s: %w", requestID, kerrors.ErrNotFound)
	}
	cur := q.current
	b.advanceLocked(q)
	b.mu.Unlock()

	cur.resolve <- d
	return b.sender.SendToolApproval(ctx, bridge.ToolApprovalResponse{
		RequestID:     cur.req.RequestID,
		Decision:      d.Decision,
		Reason:        d.Reason,
		ModifiedInput: d.ModifiedInput,
	})
}

// Dismiss is called when the UI popup closes without a decision; it
// synthesizes Deny("dismissed") per spec §4.8.
func (b *Broker) Dismiss(ctx context.Context, sessionID, requestID string) error {
	return b.Resolve(ctx, sessionID, requestID, Decision{Decision: bridge.DecisionDeny, Reason: "dismissed"})
}

func (b *Broker) advanceLocked(q *sessionQueue) {
	if len(q.pending) == 0 {
		q.current = nil
		return
	}
	q.current = q.pending[0]
	q.pending = q.pending[1:]
}

// Wait blocks until requestID is resolved or ctx is cancelled, returning the
// decision.
func (b *Broker) Wait(ctx context.Context, sessionID, requestID string) (Decision, error) {
	b.mu.Lock()
	pr := b.byID[requestID]
	b.mu.Unlock()
	if pr == nil {
		return Decision{}, fmt.Errorf("permission request %s: %w", requestID, kerrors.ErrNotFound)
	}
	select {
	case d := <-pr.resolve:
		return d, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// DropSession discards all queued requests for a session, e.g. when its job
// terminates without the user deciding every pending approval.
func (b *Broker) DropSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.sessions[sessionID]
	if q == nil {
		return
	}
	if q.current != nil {
		delete(b.byID, q.current.req.RequestID)
	}
	for _, p := range q.pending {
		delete(b.byID, p.req.RequestID)
	}
	delete(b.sessions, sessionID)
}
