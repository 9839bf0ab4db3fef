// Package bridge implements the HTTP+NDJSON client for the external agent
// sidecar (spec §4.4). It is grounded on original_source/src/agent/bridge
// for wire semantics and on the teacher's HTTP client conventions
// (cenkalti/backoff retry, context-scoped timeouts) for the Go idiom.
package bridge

import "time"

// DefaultBridgeURL is the sidecar's default listen address, matching
// original_source/src/agent/bridge/client/mod.rs.
const DefaultBridgeURL = "http://127.0.0.1:17432"

// PermissionMode mirrors agent/bridge/types/mod.rs::PermissionMode.
type PermissionMode string

const (
	PermissionDefault           PermissionMode = "default"
	PermissionAcceptEdits       PermissionMode = "acceptEdits"
	PermissionBypassPermissions PermissionMode = "bypassPermissions"
	PermissionPlan              PermissionMode = "plan"
	PermissionDelegate          PermissionMode = "delegate"
	PermissionDontAsk           PermissionMode = "dontAsk"
)

// CodexEffort mirrors agent/bridge/types/mod.rs::CodexEffort.
type CodexEffort string

const (
	CodexEffortLow    CodexEffort = "low"
	CodexEffortMedium CodexEffort = "medium"
	CodexEffortHigh   CodexEffort = "high"
)

// CodexApprovalPolicy mirrors agent/bridge/types/mod.rs::CodexApprovalPolicy.
type CodexApprovalPolicy string

const (
	CodexApprovalUntrusted CodexApprovalPolicy = "untrusted"
	CodexApprovalOnFailure CodexApprovalPolicy = "on-failure"
	CodexApprovalOnRequest CodexApprovalPolicy = "on-request"
	CodexApprovalNever     CodexApprovalPolicy = "never"
)

// ImageContent is an inline image attachment accepted by claude/query.
type ImageContent struct {
	MediaType string `json:"mediaType,omitempty"`
	Data      string `json:"data"`
}

// HookEvent names a lifecycle point agents can register callbacks for.
type HookEvent string

const (
	HookPreToolUse   HookEvent = "PreToolUse"
	HookPostToolUse  HookEvent = "PostToolUse"
	HookStop         HookEvent = "Stop"
	HookSubagentStop HookEvent = "SubagentStop"
)

// ClaudeHooksConfig is the opaque hooks bag forwarded verbatim to the bridge.
type ClaudeHooksConfig struct {
	Events map[HookEvent][]string `json:"events,omitempty"`
}

// ClaudePlugin names a plugin the session should load.
type ClaudePlugin struct {
	Name   string `json:"name"`
	Source string `json:"source,omitempty"`
}

// ClaudeQueryRequest is the full options bag accepted by POST /claude/query.
// Unknown fields are tolerated on decode by callers for forward
// compatibility (spec §6); this client only ever encodes it.
type ClaudeQueryRequest struct {
	Prompt            string             `json:"prompt"`
	Images            []ImageContent     `json:"images,omitempty"`
	Cwd               string             `json:"cwd,omitempty"`
	SessionID         string             `json:"sessionId,omitempty"`
	ForkSession       bool               `json:"forkSession,omitempty"`
	PermissionMode    PermissionMode     `json:"permissionMode,omitempty"`
	AllowedTools      []string           `json:"allowedTools,omitempty"`
	DisallowedTools   []string           `json:"disallowedTools,omitempty"`
	Env               map[string]string  `json:"env,omitempty"`
	MCPServers        map[string]any     `json:"mcpServers,omitempty"`
	SystemPrompt      string             `json:"systemPrompt,omitempty"`
	SystemPromptMode  string             `json:"systemPromptMode,omitempty"`
	SettingSources    []string           `json:"settingSources,omitempty"`
	Plugins           []ClaudePlugin     `json:"plugins,omitempty"`
	MaxTurns          int                `json:"maxTurns,omitempty"`
	MaxThinkingTokens int                `json:"maxThinkingTokens,omitempty"`
	Model             string             `json:"model,omitempty"`
	OutputSchema      map[string]any     `json:"outputSchema,omitempty"`
	KYCoCallbackURL   string             `json:"kycoCallbackUrl,omitempty"`
	Hooks             *ClaudeHooksConfig `json:"hooks,omitempty"`
}

// CodexQueryRequest is the options bag accepted by POST /codex/query.
type CodexQueryRequest struct {
	Prompt         string              `json:"prompt"`
	Cwd            string              `json:"cwd,omitempty"`
	ThreadID       string              `json:"threadId,omitempty"`
	Effort         CodexEffort         `json:"effort,omitempty"`
	ApprovalPolicy CodexApprovalPolicy `json:"approvalPolicy,omitempty"`
	Env            map[string]string   `json:"env,omitempty"`
	Model          string              `json:"model,omitempty"`
}

// ToolDecision is the user's verdict on a pending tool approval.
type ToolDecision string

const (
	DecisionAllow ToolDecision = "allow"
	DecisionDeny  ToolDecision = "deny"
	DecisionAsk   ToolDecision = "ask"
)

// ToolApprovalRequest is the payload of a tool.approval_needed event body.
// Received is populated from the event's millisecond epoch Timestamp via
// Event.Time(), not decoded directly off the wire.
type ToolApprovalRequest struct {
	RequestID string         `json:"requestId"`
	SessionID string         `json:"sessionId"`
	ToolName  string         `json:"toolName"`
	ToolInput map[string]any `json:"toolInput"`
	Received  time.Time      `json:"-"`
}

// ToolApprovalResponse is POSTed to /claude/tool-approval.
type ToolApprovalResponse struct {
	RequestID     string         `json:"requestId"`
	Decision      ToolDecision   `json:"decision"`
	Reason        string         `json:"reason,omitempty"`
	ModifiedInput map[string]any `json:"modifiedInput,omitempty"`
}

// StoredSession describes a session the bridge still remembers.
type StoredSession struct {
	ID            string  `json:"id"`
	SessionType   string  `json:"type"`
	CreatedAt     uint64  `json:"createdAt"`
	LastActiveAt  uint64  `json:"lastActiveAt"`
	Cwd           string  `json:"cwd"`
	TurnCount     uint32  `json:"turnCount"`
	TotalTokens   uint64  `json:"totalTokens"`
	TotalCostUSD  float64 `json:"totalCostUsd"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp uint64 `json:"timestamp"`
}

// ActiveSessionCounts breaks /status down by backend.
type ActiveSessionCounts struct {
	Claude int `json:"claude"`
	Codex  int `json:"codex"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Active ActiveSessionCounts `json:"activeSessions"`
}
