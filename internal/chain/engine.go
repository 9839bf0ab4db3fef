package chain

import (
	"context"
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/MAF2414/kyco-sub004/internal/config"
	"github.com/MAF2414/kyco-sub004/internal/job"
	"github.com/MAF2414/kyco-sub004/internal/kerrors"
	"github.com/MAF2414/kyco-sub004/internal/logging"
)

// PollInterval is how often Run polls an in-flight step's Job for a
// terminal status (job.WaitTerminal has no completion channel to block on).
const PollInterval = 200 * time.Millisecond

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newRunID generates a sortable chain-run id, grounded on the teacher's own
// ulid.Monotonic entropy source (internal/storage/ulid.go).
func newRunID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Engine sequences ChainSteps against the shared Job Manager.
type Engine struct {
	jobs *job.Manager
	defs *config.DefinitionsStore

	subsMu sync.Mutex
	subs   map[string][]chan ProgressEvent
}

// New builds a Chain Engine sharing the given Job Manager and mode/chain
// definitions with the rest of the process (the Control Plane and the
// Executor's dispatch loop against the same *job.Manager).
func New(jobs *job.Manager, defs *config.DefinitionsStore) *Engine {
	return &Engine{jobs: jobs, defs: defs, subs: make(map[string][]chan ProgressEvent)}
}

// Subscribe returns a channel of progress events for a chain run. Callers
// must Unsubscribe once done to release the channel.
func (e *Engine) Subscribe(runID string) <-chan ProgressEvent {
	ch := make(chan ProgressEvent, 32)
	e.subsMu.Lock()
	e.subs[runID] = append(e.subs[runID], ch)
	e.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel previously returned by Subscribe.
func (e *Engine) Unsubscribe(runID string, ch <-chan ProgressEvent) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	list := e.subs[runID]
	for i, c := range list {
		if c == ch {
			close(c)
			e.subs[runID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(e.subs[runID]) == 0 {
		delete(e.subs, runID)
	}
}

func (e *Engine) broadcast(runID string, evt ProgressEvent) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs[runID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Run executes chainName's steps against parent (a Job already Created by
// the Control Plane with ChainName set). It drives parent from Queued to a
// terminal status itself — chain jobs bypass the Executor's per-adapter
// dispatch entirely; only the per-step inner Jobs go through the Executor
// (spec §4.5, §2 data-flow: "the Chain Engine owns the multi-step loop").
func (e *Engine) Run(ctx context.Context, parentID job.ID) (*Result, error) {
	parent, err := e.jobs.Get(parentID)
	if err != nil {
		return nil, err
	}
	chainDef, ok := e.defs.Get().Chain(parent.ChainName)
	if !ok {
		_ = e.jobs.MarkFailed(parentID, fmt.Sprintf("unknown chain %q", parent.ChainName))
		return nil, fmt.Errorf("chain %q: %w", parent.ChainName, kerrors.ErrConfig)
	}
	if parent.Status == job.StatusPending {
		if err := e.jobs.Queue(parentID); err != nil {
			return nil, err
		}
	}
	if err := e.jobs.MarkRunning(parentID); err != nil {
		return nil, err
	}

	runID := newRunID()
	result := &Result{RunID: runID, ChainName: parent.ChainName}

	var (
		prevState        string
		prevFullResponse string
		failed           bool
		failMsg          string
	)

	for i, step := range chainDef.Steps {
		run, reason := shouldRunStep(step, prevState, i == 0)
		e.broadcast(runID, ProgressEvent{RunID: runID, StepIndex: i, TotalSteps: len(chainDef.Steps), Mode: step.Mode, IsStarting: true})

		if !run {
			sr := StepResult{Mode: step.Mode, StepIndex: i, Skipped: true, SkipReason: reason}
			result.StepResults = append(result.StepResults, sr)
			_ = e.jobs.AppendChainStep(parentID, job.ChainStepSummary{StepIndex: i, Mode: step.Mode, Skipped: true}, len(chainDef.Steps))
			e.broadcast(runID, ProgressEvent{RunID: runID, StepIndex: i, TotalSteps: len(chainDef.Steps), Mode: step.Mode, IsStarting: false, StepResult: &sr})
			continue
		}

		sr, stepErr := e.runStep(ctx, parent, step, i, result.AccumulatedSummaries, prevFullResponse, chainDef.PassFullResponse)
		result.StepResults = append(result.StepResults, sr)
		summary := sr.JobResult
		stepSummary := job.ChainStepSummary{
			StepIndex:    i,
			Mode:         step.Mode,
			Skipped:      false,
			Success:      sr.Success,
			FilesChanged: sr.FilesChanged,
			Error:        sr.Error,
		}
		if summary != nil {
			stepSummary.Title = summary.Title
			stepSummary.Summary = summary.Summary
			prevState = summary.State
			result.AccumulatedSummaries = append(result.AccumulatedSummaries, fmt.Sprintf("[%s] %s", step.Mode, summary.Summary))
			result.FinalState = summary.State
		}
		stepSummary.FullResponse = sr.FullResponse
		prevFullResponse = sr.FullResponse
		_ = e.jobs.AppendChainStep(parentID, stepSummary, len(chainDef.Steps))
		e.broadcast(runID, ProgressEvent{RunID: runID, StepIndex: i, TotalSteps: len(chainDef.Steps), Mode: step.Mode, IsStarting: false, StepResult: &sr})

		if stepErr != nil {
			logging.Warn("chain %q step %d (%s): %v", parent.ChainName, i, step.Mode, stepErr)
		}
		if !sr.Success {
			failed = true
			failMsg = sr.Error
			if failMsg == "" {
				failMsg = fmt.Sprintf("step %d (%s) failed", i, step.Mode)
			}
			if chainDef.StopOnFailure {
				break
			}
		}
	}

	result.Success = !failed
	if result.Success {
		if err := e.jobs.MarkDone(parentID, job.Outcome{FullResponse: prevFullResponse}); err != nil {
			logging.Warn("chain %q: mark parent done: %v", parent.ChainName, err)
		}
	} else {
		if err := e.jobs.MarkFailed(parentID, failMsg); err != nil {
			logging.Warn("chain %q: mark parent failed: %v", parent.ChainName, err)
		}
	}
	return result, nil
}

// shouldRunStep applies spec §4.5 steps 1-2: the first step always runs;
// otherwise trigger_on gates on the previous state (absent means "always"),
// and skip_on overrides trigger_on when both match the same state (logged
// as a configuration smell, never silently resolved).
func shouldRunStep(step config.ChainStep, prevState string, first bool) (bool, string) {
	if first {
		return true, ""
	}
	trigger := true
	if len(step.TriggerOn) > 0 {
		trigger = containsState(step.TriggerOn, prevState)
	}
	skip := len(step.SkipOn) > 0 && containsState(step.SkipOn, prevState)

	if trigger && skip {
		logging.Warn("chain step %q: trigger_on and skip_on both match state %q; skip_on wins", step.Mode, prevState)
	}
	if skip {
		return false, fmt.Sprintf("skip_on matched state %q", prevState)
	}
	if !trigger {
		return false, fmt.Sprintf("trigger_on did not match state %q", prevState)
	}
	return true, ""
}

func containsState(states []string, state string) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

// runStep executes one ChainStep as its own inner Job: creates it sharing
// the parent's worktree/branch/workspace/target (spec §4.5 step 4), queues
// it onto the shared Job Manager (the already-running Executor dispatch
// loop picks it up), and blocks on job.WaitTerminal.
func (e *Engine) runStep(ctx context.Context, parent *job.Job, step config.ChainStep, index int, accumulated []string, prevFullResponse string, passFull bool) (StepResult, error) {
	modeDef, ok := e.defs.Get().Mode(step.Mode)
	if !ok {
		return StepResult{Mode: step.Mode, StepIndex: index, Error: fmt.Sprintf("unknown mode %q", step.Mode)}, fmt.Errorf("mode %q: %w", step.Mode, kerrors.ErrConfig)
	}

	vars := map[string]string{
		"file":        parent.SourceFile,
		"line":        strconv.Itoa(parent.SourceLine),
		"target":      parent.Target,
		"mode":        step.Mode,
		"description": parent.Description,
		"scope_type":  "selection",
		"ide_context": parent.IDEContext,
	}
	prompt := buildStepPrompt(modeDef, vars, step, accumulated, prevFullResponse, passFull)

	agentID := parent.AgentID
	if step.AgentOverride != "" {
		agentID = step.AgentOverride
	}

	inner := e.jobs.Create(job.CreateParams{
		Mode:           step.Mode,
		Target:         parent.Target,
		Description:    parent.Description,
		Prompt:         prompt,
		IDEContext:     parent.IDEContext,
		AgentID:        agentID,
		Workspace:      parent.WorkspacePath,
		SourceFile:     parent.SourceFile,
		SourceLine:     parent.SourceLine,
		ForceWorktree:  parent.ForceWorktree,
		PermissionMode: parent.PermissionMode,
	})

	if parent.WorktreePath != "" {
		if err := e.jobs.SetWorktree(inner.ID, parent.WorktreePath, parent.BranchName, parent.BaseBranch, parent.BaseRevision); err != nil {
			logging.Warn("chain step %d: reuse worktree: %v", index, err)
		}
	}

	if err := e.jobs.Queue(inner.ID); err != nil {
		return StepResult{Mode: step.Mode, StepIndex: index, JobID: inner.ID, Error: err.Error()}, err
	}

	done, err := job.WaitTerminal(ctx, e.jobs, inner.ID, PollInterval)
	if err != nil {
		return StepResult{Mode: step.Mode, StepIndex: index, JobID: inner.ID, Error: err.Error()}, err
	}

	if parent.WorktreePath == "" && done.WorktreePath != "" {
		if err := e.jobs.SetWorktree(parent.ID, done.WorktreePath, done.BranchName, done.BaseBranch, done.BaseRevision); err != nil {
			logging.Warn("chain step %d: record worktree on parent: %v", index, err)
		}
		parent.WorktreePath = done.WorktreePath
		parent.BranchName = done.BranchName
		parent.BaseBranch = done.BaseBranch
		parent.BaseRevision = done.BaseRevision
	}

	sr := StepResult{
		Mode:         step.Mode,
		StepIndex:    index,
		JobID:        inner.ID,
		JobResult:    done.Result,
		Success:      done.Status == job.StatusDone,
		Error:        done.ErrorMessage,
		FullResponse: done.FullResponse,
	}
	if done.Stats != nil {
		sr.FilesChanged = done.Stats.FilesChanged
	}
	return sr, nil
}

// buildStepPrompt assembles the outgoing prompt (spec §4.5 step 3): the
// accumulated "[mode] summary" lines, the step's inject_context, optionally
// the previous step's full response, then the step's own rendered mode
// template as the base prompt.
func buildStepPrompt(modeDef config.ModeDefinition, vars map[string]string, step config.ChainStep, accumulated []string, prevFullResponse string, passFull bool) string {
	var b strings.Builder
	if len(accumulated) > 0 {
		b.WriteString("Context from previous steps in this chain:\n")
		for _, s := range accumulated {
			b.WriteString("- ")
			b.WriteString(s)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if step.InjectContext != "" {
		b.WriteString(step.InjectContext)
		b.WriteString("\n\n")
	}
	if passFull && prevFullResponse != "" {
		b.WriteString("Full response from the previous step:\n")
		b.WriteString(prevFullResponse)
		b.WriteString("\n\n")
	}
	b.WriteString(modeDef.Render(vars))
	return b.String()
}
