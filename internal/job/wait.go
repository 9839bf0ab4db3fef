package job

import (
	"context"
	"fmt"
	"time"

	"github.com/MAF2414/kyco-sub004/internal/kerrors"
)

// WaitTerminal polls m for id to reach a terminal Status, returning the
// final Job snapshot. Used by the Chain Engine, which needs to block on
// one step's inner Job before deciding the next step's trigger/skip
// (spec §4.5 step 4: "Dispatch through the Executor, wait for terminal
// status"). The Job Manager has no per-job completion channel, so this
// polls at interval rather than blocking on a notification.
func WaitTerminal(ctx context.Context, m *Manager, id ID, interval time.Duration) (*Job, error) {
	for {
		j, err := m.Get(id)
		if err != nil {
			return nil, err
		}
		// Done is not Terminal() in the state-machine sense (it can still
		// move to Merged/Rejected on user action), but a chain step's run
		// is finished the moment its inner Job reaches Done.
		if j.Status.Terminal() || j.Status == StatusDone {
			return j, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for job %d: %w: %w", id, kerrors.ErrTimeout, ctx.Err())
		case <-time.After(interval):
		}
	}
}
