package v1

import (
	"context"
	"sync"

	"github.com/MAF2414/kyco-sub004/internal/job"
)

// chainRunRegistry tracks the cancel func of each in-flight chain run so
// POST /ctl/jobs/{id}/abort can interrupt a multi-step chain the same way it
// interrupts a single job, since chain.Engine.Run has no id of its own to
// address until the parent Job is created.
type chainRunRegistry struct {
	mu      sync.Mutex
	cancels map[job.ID]context.CancelFunc
}

func newChainRunRegistry() *chainRunRegistry {
	return &chainRunRegistry{cancels: make(map[job.ID]context.CancelFunc)}
}

func (r *chainRunRegistry) start(parentID job.ID) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancels[parentID] = cancel
	r.mu.Unlock()
	return ctx
}

func (r *chainRunRegistry) finish(parentID job.ID) {
	r.mu.Lock()
	delete(r.cancels, parentID)
	r.mu.Unlock()
}

// abort cancels a running chain's context, returning false if none is
// in-flight for parentID.
func (r *chainRunRegistry) abort(parentID job.ID) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[parentID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}
