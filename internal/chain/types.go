// Package chain implements the Chain Engine (spec §4.5): sequencing a
// ChainDefinition's ChainSteps against the shared Job Manager, evaluating
// each step's trigger_on/skip_on predicates, accumulating cross-step
// context, and aggregating the per-step outcomes into a ChainResult.
//
// The engine never talks to an Adapter directly. Each step is dispatched
// the same way any other job is: Create + Queue against the shared
// *job.Manager, picked up by whichever Executor.Start loop is already
// running against that Manager, and awaited via job.WaitTerminal. This
// keeps the package's only core dependency on internal/job, the same way
// original_source/src/agent/chain keeps the chain runtime decoupled from
// the agent execution backend.
package chain

import "github.com/MAF2414/kyco-sub004/internal/job"

// StepResult captures the outcome of a single chain step, whether it ran
// or was skipped (original_source/src/agent/chain/types.rs ChainStepResult).
type StepResult struct {
	Mode         string      `json:"mode"`
	StepIndex    int         `json:"step_index"`
	Skipped      bool        `json:"skipped"`
	SkipReason   string      `json:"skip_reason,omitempty"`
	JobID        job.ID      `json:"job_id,omitempty"`
	JobResult    *job.Result `json:"job_result,omitempty"`
	Success      bool        `json:"success"`
	Error        string      `json:"error,omitempty"`
	FilesChanged int         `json:"files_changed"`
	FullResponse string      `json:"full_response,omitempty"`
}

// Result is the outcome of running a complete chain
// (original_source/src/agent/chain/types.rs ChainResult).
type Result struct {
	RunID                string       `json:"run_id"`
	ChainName            string       `json:"chain_name"`
	StepResults          []StepResult `json:"step_results"`
	Success              bool         `json:"success"`
	FinalState           string       `json:"final_state,omitempty"`
	AccumulatedSummaries []string     `json:"accumulated_summaries,omitempty"`
}

// ProgressEvent is emitted on the start and end of every step so a UI can
// render a running chain with intermediate results
// (original_source/src/agent/chain/types.rs ChainProgressEvent).
type ProgressEvent struct {
	RunID      string      `json:"run_id"`
	StepIndex  int         `json:"step_index"`
	TotalSteps int         `json:"total_steps"`
	Mode       string      `json:"mode"`
	IsStarting bool        `json:"is_starting"`
	StepResult *StepResult `json:"step_result,omitempty"`
}
