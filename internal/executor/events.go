package executor

import (
	"fmt"

	"github.com/MAF2414/kyco-sub004/internal/bridge"
	"github.com/MAF2414/kyco-sub004/internal/job"
)

// logEventFor compresses a bridge.Event into the bounded, UI-friendly
// job.LogEvent appended to each Job (invariant I5).
func logEventFor(e bridge.Event) job.LogEvent {
	msg := ""
	switch e.Type {
	case bridge.EventText:
		msg = e.Text
	case bridge.EventToolUse:
		msg = fmt.Sprintf("tool use: %s", e.ToolName)
	case bridge.EventToolResult:
		if !e.Success {
			msg = fmt.Sprintf("tool error: %s: %s", e.ToolName, e.Output)
		} else {
			msg = fmt.Sprintf("tool result: %s", e.ToolName)
		}
	case bridge.EventError:
		msg = e.Message
	case bridge.EventSessionComplete:
		if e.Success {
			msg = "session complete"
		} else {
			msg = "session complete (failed)"
		}
	case bridge.EventToolApprovalNeeds:
		msg = fmt.Sprintf("approval needed: %s", e.ToolName)
	case bridge.EventSessionStart:
		msg = "session start"
	case bridge.EventHeartbeat:
		msg = "heartbeat"
	}
	return job.LogEvent{Timestamp: e.Time(), Kind: string(e.Type), Message: msg}
}
