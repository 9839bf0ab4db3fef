package bridge

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the BridgeEvent tag discriminator (spec §3).
type EventType string

const (
	EventSessionStart      EventType = "session.start"
	EventText              EventType = "text"
	EventToolUse           EventType = "tool.use"
	EventToolResult        EventType = "tool.result"
	EventError             EventType = "error"
	EventSessionComplete   EventType = "session.complete"
	EventToolApprovalNeeds EventType = "tool.approval_needed"
	EventHookPreToolUse    EventType = "hook.pre_tool_use"
	EventHeartbeat         EventType = "heartbeat"
)

// UsageStats is the token/cost summary carried by session.complete, grounded
// on original_source/src/agent/bridge/types/events.rs::UsageStats. Claude
// reports cacheReadTokens/cacheWriteTokens; Codex instead reports
// cachedInputTokens, which EffectiveCacheRead folds into the same number.
type UsageStats struct {
	InputTokens       uint64 `json:"inputTokens"`
	OutputTokens      uint64 `json:"outputTokens"`
	CacheReadTokens   uint64 `json:"cacheReadTokens,omitempty"`
	CacheWriteTokens  uint64 `json:"cacheWriteTokens,omitempty"`
	CachedInputTokens uint64 `json:"cachedInputTokens,omitempty"`
}

// EffectiveCacheRead mirrors the original's effective_cache_read(): cache
// reads count toward effective context even when no fresh input was sent,
// falling back to Codex's cachedInputTokens when Claude's cacheReadTokens
// is absent.
func (u UsageStats) EffectiveCacheRead() uint64 {
	if u.CacheReadTokens != 0 {
		return u.CacheReadTokens
	}
	return u.CachedInputTokens
}

// Event is a single parsed NDJSON line. Every event carries Type,
// SessionID, and Timestamp (spec §6, a millisecond epoch per the wire
// protocol, not an RFC3339 string); the remaining fields are populated
// according to Type and are the zero value otherwise.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Timestamp uint64    `json:"timestamp"`

	// session.start
	Model string   `json:"model,omitempty"`
	Tools []string `json:"tools,omitempty"`

	// text
	Text    string `json:"content,omitempty"`
	Partial bool   `json:"partial,omitempty"`

	// tool.use / tool.result / tool.approval_needed / hook.pre_tool_use
	ToolName  string         `json:"toolName,omitempty"`
	ToolInput map[string]any `json:"toolInput,omitempty"`
	ToolUseID string         `json:"toolUseId,omitempty"`

	// tool.result
	Output       string   `json:"output,omitempty"`
	FilesChanged []string `json:"filesChanged,omitempty"`

	// error
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`

	// session.complete / tool.result ("success" is shared by both events,
	// never present on the same line together)
	Success bool `json:"success,omitempty"`

	// session.complete
	Result     json.RawMessage `json:"result,omitempty"`
	Usage      *UsageStats     `json:"usage,omitempty"`
	CostUSD    *float64        `json:"costUsd,omitempty"`
	DurationMs uint64          `json:"durationMs,omitempty"`

	// tool.approval_needed
	RequestID string `json:"requestId,omitempty"`

	// hook.pre_tool_use
	TranscriptPath string `json:"transcriptPath,omitempty"`

	// heartbeat
	PendingApprovalRequestID string `json:"pendingApprovalRequestId,omitempty"`
}

// Time converts the wire's millisecond epoch Timestamp to a time.Time.
func (e Event) Time() time.Time {
	return time.UnixMilli(int64(e.Timestamp))
}

// ApprovalRequest extracts a ToolApprovalRequest from a tool.approval_needed
// event. Callers must check Type first.
func (e Event) ApprovalRequest() ToolApprovalRequest {
	return ToolApprovalRequest{
		RequestID: e.RequestID,
		SessionID: e.SessionID,
		ToolName:  e.ToolName,
		ToolInput: e.ToolInput,
		Received:  e.Time(),
	}
}

// knownEventTypes lets the stream parser warn (not fail) on an unrecognized
// type discriminator, matching spec §6: "unknown types are ignored with a
// warning".
var knownEventTypes = map[EventType]bool{
	EventSessionStart:      true,
	EventText:              true,
	EventToolUse:           true,
	EventToolResult:        true,
	EventError:             true,
	EventSessionComplete:   true,
	EventToolApprovalNeeds: true,
	EventHookPreToolUse:    true,
	EventHeartbeat:         true,
}

// ParseEvent decodes one NDJSON line into an Event, validating the required
// type/sessionId/timestamp fields.
func ParseEvent(line []byte) (Event, bool, error) {
	var e Event
	if err := json.Unmarshal(line, &e); err != nil {
		return Event{}, false, fmt.Errorf("parse bridge event: %w", err)
	}
	if e.Type == "" {
		return Event{}, false, fmt.Errorf("bridge event missing required field \"type\"")
	}
	if e.SessionID == "" {
		return Event{}, false, fmt.Errorf("bridge event missing required field \"sessionId\"")
	}
	if e.Timestamp == 0 {
		return Event{}, false, fmt.Errorf("bridge event missing required field \"timestamp\"")
	}
	return e, knownEventTypes[e.Type], nil
}
