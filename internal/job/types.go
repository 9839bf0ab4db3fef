package job

import "time"

// ID is a dense monotonically increasing job identifier.
type ID uint64

// GroupID identifies a set of sibling jobs running the same prompt against
// different agents for side-by-side comparison (spec §3, I7).
type GroupID uint64

// MaxLogEvents is the bounded FIFO cap on a job's log events (invariant I5).
const MaxLogEvents = 200

// Scope describes what part of a file a job targets.
type ScopeKind string

const (
	ScopeLine     ScopeKind = "line"
	ScopeRange    ScopeKind = "range"
	ScopeFreeText ScopeKind = "free_text"
)

// Scope is the `{path}:{line}` / `{path}:{start}-{end}` / free-text target
// definition carried by a job.
type Scope struct {
	Kind       ScopeKind `json:"kind"`
	Path       string    `json:"path,omitempty"`
	LineStart  int       `json:"line_start,omitempty"`
	LineEnd    int       `json:"line_end,omitempty"`
	FreeText   string    `json:"free_text,omitempty"`
}

// TypeName returns the human scope-type word used in prompt templates:
// "line" or "range" for those kinds, "selection" for every other kind.
func (s Scope) TypeName() string {
	switch s.Kind {
	case ScopeLine:
		return "line"
	case ScopeRange:
		return "range"
	default:
		return "selection"
	}
}

// LogEvent is a compact, bounded log entry appended as the agent streams.
type LogEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
}

// Result is the parsed structured-result YAML footer an agent appends to
// its final response (spec §4.5 step 5, §6).
type Result struct {
	Title        string `json:"title,omitempty" yaml:"title,omitempty"`
	CommitSubject string `json:"commit_subject,omitempty" yaml:"commit_subject,omitempty"`
	CommitBody   string `json:"commit_body,omitempty" yaml:"commit_body,omitempty"`
	Details      string `json:"details,omitempty" yaml:"details,omitempty"`
	Status       string `json:"status,omitempty" yaml:"status,omitempty"`
	Summary      string `json:"summary,omitempty" yaml:"summary,omitempty"`
	State        string `json:"state,omitempty" yaml:"state,omitempty"`
}

// Stats is computed statistics for a completed job.
type Stats struct {
	FilesChanged int            `json:"files_changed"`
	LinesAdded   int            `json:"lines_added"`
	LinesRemoved int            `json:"lines_removed"`
	Duration     time.Duration  `json:"duration"`
	InputTokens  uint64         `json:"input_tokens"`
	OutputTokens uint64         `json:"output_tokens"`
	CacheRead    uint64         `json:"cache_read_tokens"`
	CacheWrite   uint64         `json:"cache_write_tokens"`
	CostUSD      float64        `json:"cost_usd"`
}

// ChainStepSummary summarizes one executed or skipped chain step for UI
// progress rendering and the Job's chain_step_history.
type ChainStepSummary struct {
	StepIndex    int     `json:"step_index"`
	Mode         string  `json:"mode"`
	Skipped      bool    `json:"skipped"`
	Success      bool    `json:"success"`
	Title        string  `json:"title,omitempty"`
	Summary      string  `json:"summary,omitempty"`
	FullResponse string  `json:"full_response,omitempty"`
	Error        string  `json:"error,omitempty"`
	FilesChanged int     `json:"files_changed"`
}

// Job is the canonical unit of work owned exclusively by the Manager.
type Job struct {
	ID      ID       `json:"id"`
	GroupID *GroupID `json:"group_id,omitempty"`
	ChainName       string `json:"chain_name,omitempty"`
	ChainStepIndex  *int   `json:"chain_current_step,omitempty"`
	ChainTotalSteps int    `json:"chain_total_steps,omitempty"`

	Mode          string  `json:"mode"`
	Target        string  `json:"target"`
	Description   string  `json:"description,omitempty"`
	Prompt        string  `json:"prompt,omitempty"`
	IDEContext    string  `json:"ide_context,omitempty"`

	AgentID         string `json:"agent_id"`
	ForceWorktree   bool   `json:"force_worktree"`
	PermissionMode  string `json:"permission_mode,omitempty"`

	WorkspacePath string `json:"workspace_path"`
	SourceFile    string `json:"source_file"`
	SourceLine    int    `json:"source_line,omitempty"`
	WorktreePath  string `json:"git_worktree_path,omitempty"`
	BranchName    string `json:"branch_name,omitempty"`
	BaseBranch    string `json:"base_branch,omitempty"`
	BaseRevision  string `json:"git_base_revision,omitempty"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	BridgeSessionID string `json:"bridge_session_id,omitempty"`
	RawTagLine      string `json:"raw_tag_line,omitempty"`

	ChangedFiles []string   `json:"changed_files,omitempty"`
	Result       *Result    `json:"result,omitempty"`
	FullResponse string     `json:"full_response,omitempty"`
	LogEvents    []LogEvent `json:"log_events,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Stats        *Stats     `json:"stats,omitempty"`

	BlockedBy   *ID    `json:"blocked_by,omitempty"`
	BlockedFile string `json:"blocked_file,omitempty"`

	ChainStepHistory []ChainStepSummary `json:"chain_step_history,omitempty"`
}

// AppendLogEvent appends an event, evicting the oldest entry once the job
// exceeds MaxLogEvents (invariant I5).
func (j *Job) AppendLogEvent(e LogEvent) {
	j.LogEvents = append(j.LogEvents, e)
	if len(j.LogEvents) > MaxLogEvents {
		j.LogEvents = j.LogEvents[len(j.LogEvents)-MaxLogEvents:]
	}
}

// SetBridgeSessionID sets the session id on first sight only (invariant I6).
func (j *Job) SetBridgeSessionID(id string) {
	if j.BridgeSessionID == "" {
		j.BridgeSessionID = id
	}
}

// IsPromptOnly reports whether the job has no concrete source file — e.g. a
// chat-style job with only a free-text prompt (boundary B2).
func (j *Job) IsPromptOnly() bool {
	return j.SourceFile == "" || j.SourceFile == j.WorkspacePath
}

// Clone deep-copies the mutable slice/pointer fields so callers can read a
// Job snapshot without racing the Manager's next mutation.
func (j *Job) Clone() *Job {
	c := *j
	if j.GroupID != nil {
		g := *j.GroupID
		c.GroupID = &g
	}
	if j.ChainStepIndex != nil {
		s := *j.ChainStepIndex
		c.ChainStepIndex = &s
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	if j.BlockedBy != nil {
		b := *j.BlockedBy
		c.BlockedBy = &b
	}
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	if j.Stats != nil {
		s := *j.Stats
		c.Stats = &s
	}
	c.ChangedFiles = append([]string(nil), j.ChangedFiles...)
	c.LogEvents = append([]LogEvent(nil), j.LogEvents...)
	c.ChainStepHistory = append([]ChainStepSummary(nil), j.ChainStepHistory...)
	return &c
}

// GroupStatus is the aggregate status of a JobGroup.
type GroupStatus string

const (
	GroupRunning   GroupStatus = "running"
	GroupComparing GroupStatus = "comparing"
	GroupSelected  GroupStatus = "selected"
)

// Group is a set of sibling jobs running the same prompt with different
// agents for side-by-side comparison (spec §3).
type Group struct {
	ID       GroupID     `json:"id"`
	JobIDs   []ID        `json:"job_ids"`
	Status   GroupStatus `json:"status"`
	WinnerID *ID         `json:"winner_id,omitempty"`
}
