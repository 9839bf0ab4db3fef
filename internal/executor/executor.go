package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MAF2414/kyco-sub004/internal/bridge"
	"github.com/MAF2414/kyco-sub004/internal/config"
	"github.com/MAF2414/kyco-sub004/internal/job"
	"github.com/MAF2414/kyco-sub004/internal/kerrors"
	"github.com/MAF2414/kyco-sub004/internal/logging"
	"github.com/MAF2414/kyco-sub004/internal/permission"
	"github.com/MAF2414/kyco-sub004/internal/resultparse"
	"github.com/MAF2414/kyco-sub004/internal/worktree"
)

// StatsSink is the Executor's view of the Stats Recorder (spec §4.7),
// kept as a narrow interface here so internal/executor never imports
// internal/stats (it is supplied one at wiring time in cmd/kyco).
type StatsSink interface {
	RecordToolCall(ctx context.Context, jobID job.ID, mode string, e bridge.Event)
	RecordJobComplete(ctx context.Context, jobID job.ID, mode string, stats job.Stats, success bool)
}

// activeRun is bookkeeping for one in-flight job, used by Abort and by the
// final event-loop pass to know whether "aborted" should override the
// adapter's own success/failure verdict.
type activeRun struct {
	cancel  context.CancelFunc
	req     RunRequest
	adapter Adapter
	aborted atomic.Bool
}

// Executor is the Agent Executor (spec §4.3): it watches the Job
// Manager's dispatch signal, admits Queued jobs under a concurrency
// semaphore, runs each through the adapter its agent_id resolves to, and
// writes the terminal outcome back to the Job Manager. Grounded on the
// teacher's agent_execution_engine.go (span-per-execution, sequential
// event-loop handling of a streamed response).
type Executor struct {
	jobs        *job.Manager
	worktrees   *worktree.Manager // nil if the workspace is not a git repo
	definitions *config.DefinitionsStore
	permissions *permission.Broker
	stats       StatsSink
	tracer      trace.Tracer

	bridgeAdapter   *BridgeAdapter
	cliAdapter      *CLIAdapter
	ptyAdapter      *PTYAdapter
	terminalAdapter *TerminalAdapter

	sem  chan struct{}
	wake chan struct{}

	mu     sync.Mutex
	active map[job.ID]*activeRun

	subsMu sync.Mutex
	subs   map[job.ID][]chan bridge.Event

	wg sync.WaitGroup

	// testAdapterOverride lets tests substitute a fake Adapter for every
	// job regardless of its resolved AdapterKind, without spawning real
	// subprocesses or a bridge sidecar.
	testAdapterOverride Adapter
}

// New builds an Executor with maxConcurrent admission slots. worktrees may
// be nil (no-worktree, e.g. a bare prompt-only deployment); stats and
// permissions may be nil to run without those side channels.
func New(
	jobs *job.Manager,
	worktrees *worktree.Manager,
	definitions *config.DefinitionsStore,
	bridgeClient *bridge.Client,
	permissions *permission.Broker,
	stats StatsSink,
	maxConcurrent int,
) *Executor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Executor{
		jobs:            jobs,
		worktrees:       worktrees,
		definitions:     definitions,
		permissions:     permissions,
		stats:           stats,
		tracer:          otel.Tracer("kyco/executor"),
		bridgeAdapter:   NewBridgeAdapter(bridgeClient),
		cliAdapter:      NewCLIAdapter(),
		ptyAdapter:      NewPTYAdapter(),
		terminalAdapter: NewTerminalAdapter(""),
		sem:             make(chan struct{}, maxConcurrent),
		wake:            make(chan struct{}, 1),
		active:          make(map[job.ID]*activeRun),
		subs:            make(map[job.ID][]chan bridge.Event),
	}
}

func (ex *Executor) nudge() {
	select {
	case ex.wake <- struct{}{}:
	default:
	}
}

// Start runs the dispatch loop until ctx is cancelled. It is safe to call
// once; callers should arrange for ctx to be cancelled at shutdown so
// in-flight adapter processes are killed.
func (ex *Executor) Start(ctx context.Context) {
	go func() {
		ex.fill(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ex.jobs.DispatchSignal():
			case <-ex.wake:
			}
			ex.fill(ctx)
		}
	}()
}

// Wait blocks until every in-flight runDispatched goroutine has returned.
// Intended for graceful shutdown after ctx passed to Start is cancelled.
func (ex *Executor) Wait() {
	ex.wg.Wait()
}

// fill admits as many Queued jobs as there are free semaphore slots and
// dispatchable work.
func (ex *Executor) fill(ctx context.Context) {
	for {
		select {
		case ex.sem <- struct{}{}:
		default:
			return
		}
		j, ok := ex.jobs.NextDispatchable()
		if !ok {
			<-ex.sem
			return
		}
		ex.wg.Add(1)
		go ex.runDispatched(ctx, j.ID)
	}
}

func (ex *Executor) adapterFor(kind AdapterKind) Adapter {
	if ex.testAdapterOverride != nil {
		return ex.testAdapterOverride
	}
	switch kind {
	case AdapterCLI:
		return ex.cliAdapter
	case AdapterPTY:
		return ex.ptyAdapter
	case AdapterTerminal:
		return ex.terminalAdapter
	default:
		return ex.bridgeAdapter
	}
}

func (ex *Executor) runDispatched(parentCtx context.Context, id job.ID) {
	defer func() {
		<-ex.sem
		ex.nudge()
		ex.wg.Done()
	}()

	if err := ex.jobs.MarkRunning(id); err != nil {
		logging.Warn("job %d: mark running: %v", id, err)
		return
	}
	j, err := ex.jobs.Get(id)
	if err != nil {
		logging.Warn("job %d: get after mark running: %v", id, err)
		return
	}
	if j.Status != job.StatusRunning {
		// Collided with another job on the same source file; MarkRunning
		// already transitioned it to Blocked instead.
		return
	}

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	if err := ex.execute(ctx, cancel, j); err != nil {
		logging.Error("job %d: execute: %v", id, err)
		_ = ex.jobs.MarkFailed(id, err.Error())
	}
}

// execute runs one Job to completion on its resolved adapter, handling
// worktree setup, path remapping, event forwarding, and the terminal
// Job Manager write. It reports an error only for failures that occur
// before a Job Manager terminal write already happened (the caller then
// marks the Job Failed itself); all other outcomes are written directly
// via MarkDone/MarkFailed so the right Outcome fields are populated.
func (ex *Executor) execute(ctx context.Context, cancel context.CancelFunc, j *job.Job) error {
	kind, _ := resolveAdapterKind(j.AgentID)
	adapter := ex.adapterFor(kind)

	ctx, span := ex.tracer.Start(ctx, "executor.run_job", trace.WithAttributes(
		attribute.Int64("kyco.job_id", int64(j.ID)),
		attribute.String("kyco.mode", j.Mode),
		attribute.String("kyco.adapter", string(kind)),
	))
	defer span.End()

	wtPath := j.WorktreePath
	baseBranch := j.BaseBranch
	if ex.worktrees != nil && wtPath == "" && (j.ForceWorktree || !j.IsPromptOnly()) {
		info, err := ex.worktrees.CreateWorktree(ctx, uint64(j.ID))
		if err != nil {
			span.RecordError(err)
			return ex.fail(j.ID, fmt.Sprintf("create worktree: %v", err))
		}
		wtPath = info.Path
		baseBranch = info.BaseBranch
		if err := ex.jobs.SetWorktree(j.ID, info.Path, worktreeBranchName(j.ID), info.BaseBranch, ""); err != nil {
			logging.Warn("job %d: set worktree metadata: %v", j.ID, err)
		}
		j.WorktreePath = info.Path
		j.BaseBranch = info.BaseBranch
	}

	if err := remapToWorktree(j.WorkspacePath, wtPath, j); err != nil {
		span.RecordError(err)
		return ex.fail(j.ID, err.Error())
	}

	prompt, _, err := buildPrompt(ex.definitions.Get(), j)
	if err != nil {
		span.RecordError(err)
		return ex.fail(j.ID, err.Error())
	}

	cwd := wtPath
	if cwd == "" {
		cwd = j.WorkspacePath
	}
	req := RunRequest{
		AgentID:        j.AgentID,
		Prompt:         prompt,
		SessionID:      j.BridgeSessionID,
		WorkspacePath:  cwd,
		PermissionMode: bridge.PermissionMode(j.PermissionMode),
	}

	items, err := adapter.Run(ctx, req)
	if err != nil {
		span.RecordError(err)
		return ex.fail(j.ID, err.Error())
	}

	run := &activeRun{cancel: cancel, req: req, adapter: adapter}
	ex.mu.Lock()
	ex.active[j.ID] = run
	ex.mu.Unlock()
	defer func() {
		ex.mu.Lock()
		delete(ex.active, j.ID)
		ex.mu.Unlock()
	}()

	start := time.Now()
	var fullResponse strings.Builder
	var usage *bridge.UsageStats
	var costUSD float64
	success := false
	sawComplete := false
	failMsg := ""

	for item := range items {
		if item.Err != nil {
			logging.Warn("job %d: stream error: %v", j.ID, item.Err)
			failMsg = item.Err.Error()
			continue
		}
		evt := item.Event
		if evt.SessionID != "" {
			if err := ex.jobs.SetBridgeSessionID(j.ID, evt.SessionID); err != nil {
				logging.Warn("job %d: set bridge session id: %v", j.ID, err)
			}
			run.req.SessionID = evt.SessionID
		}
		ex.broadcast(j.ID, evt)
		if err := ex.jobs.AppendLogEvent(j.ID, logEventFor(evt)); err != nil {
			logging.Warn("job %d: append log event: %v", j.ID, err)
		}
		if ex.stats != nil && (evt.Type == bridge.EventToolUse || evt.Type == bridge.EventToolResult) {
			ex.stats.RecordToolCall(ctx, j.ID, j.Mode, evt)
		}
		switch evt.Type {
		case bridge.EventToolApprovalNeeds:
			if ex.permissions != nil {
				ex.permissions.Enqueue(evt.ApprovalRequest())
			}
		case bridge.EventText:
			if !evt.Partial {
				fullResponse.WriteString(evt.Text)
				fullResponse.WriteString("\n")
			}
		case bridge.EventSessionComplete:
			sawComplete = true
			success = evt.Success
			usage = evt.Usage
			if evt.CostUSD != nil {
				costUSD = *evt.CostUSD
			}
		case bridge.EventError:
			failMsg = evt.Message
		}
	}
	duration := time.Since(start)
	if ex.permissions != nil && run.req.SessionID != "" {
		ex.permissions.DropSession(run.req.SessionID)
	}

	if run.aborted.Load() {
		span.SetStatus(codes.Error, "aborted")
		return ex.fail(j.ID, "aborted")
	}
	if !sawComplete {
		msg := failMsg
		if msg == "" {
			msg = "stream ended without session.complete"
		}
		span.SetStatus(codes.Error, msg)
		return ex.fail(j.ID, msg)
	}

	changedFiles, diffErr := ex.collectChangedFiles(ctx, wtPath, baseBranch)
	if diffErr != nil {
		logging.Warn("job %d: diff after completion: %v", j.ID, diffErr)
	}

	result, ok, parseErr := resultparse.Parse(fullResponse.String())
	if parseErr != nil {
		logging.Warn("job %d: parse result block: %v", j.ID, parseErr)
	}
	var resultPtr *job.Result
	if ok {
		resultPtr = &result
	}

	stats := job.Stats{FilesChanged: len(changedFiles), Duration: duration, CostUSD: costUSD}
	if usage != nil {
		stats.InputTokens = usage.InputTokens
		stats.OutputTokens = usage.OutputTokens
		stats.CacheRead = usage.EffectiveCacheRead()
		stats.CacheWrite = usage.CacheWriteTokens
	}
	if ex.stats != nil {
		ex.stats.RecordJobComplete(ctx, j.ID, j.Mode, stats, success)
	}

	if !success {
		msg := failMsg
		if msg == "" {
			msg = "agent reported failure"
		}
		span.SetStatus(codes.Error, msg)
		return ex.fail(j.ID, msg)
	}

	if err := ex.jobs.MarkDone(j.ID, job.Outcome{
		ChangedFiles: changedFiles,
		Result:       resultPtr,
		FullResponse: fullResponse.String(),
		Stats:        &stats,
	}); err != nil {
		logging.Warn("job %d: mark done: %v", j.ID, err)
	}
	return nil
}

// fail marks id Failed with msg and swallows the (already logged) error
// from doing so, so execute's call sites can simply `return ex.fail(...)`.
func (ex *Executor) fail(id job.ID, msg string) error {
	if err := ex.jobs.MarkFailed(id, msg); err != nil {
		logging.Warn("job %d: mark failed: %v", id, err)
	}
	return nil
}

func (ex *Executor) collectChangedFiles(ctx context.Context, worktreePath, baseBranch string) ([]string, error) {
	if ex.worktrees == nil || worktreePath == "" {
		return nil, nil
	}
	report, err := ex.worktrees.DiffReport(ctx, worktreePath, baseBranch, worktree.DiffSettings{IncludeUntracked: true})
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(report.Files))
	for _, f := range report.Files {
		files = append(files, f.Path)
	}
	return files, nil
}

func worktreeBranchName(id job.ID) string {
	return fmt.Sprintf("kyco/job-%d", id)
}

// Abort cancels a Running job: it asks the live adapter to interrupt,
// flags the run so execute's final write uses "aborted" rather than the
// adapter's own verdict, then cancels the job's context as a fallback
// (adapters escalate from SIGINT to SIGKILL after a grace period on
// cancellation). A Queued/Pending job is failed immediately by the Job
// Manager itself and there is nothing further to do here.
func (ex *Executor) Abort(ctx context.Context, id job.ID) error {
	prev, err := ex.jobs.Abort(id)
	if err != nil {
		return err
	}
	if prev != job.StatusRunning {
		return nil
	}
	ex.mu.Lock()
	run, ok := ex.active[id]
	ex.mu.Unlock()
	if !ok {
		return nil
	}
	run.aborted.Store(true)
	if err := run.adapter.Interrupt(ctx, run.req); err != nil {
		logging.Warn("job %d: interrupt: %v", id, err)
	}
	run.cancel()
	return nil
}

// Subscribe registers a channel that receives every bridge.Event forwarded
// for jobID, in arrival order (spec §5's per-session ordering guarantee).
// The caller must drain it promptly: sends are non-blocking and a slow
// subscriber simply misses events rather than stalling the job.
func (ex *Executor) Subscribe(jobID job.ID) <-chan bridge.Event {
	ch := make(chan bridge.Event, 64)
	ex.subsMu.Lock()
	ex.subs[jobID] = append(ex.subs[jobID], ch)
	ex.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel previously returned by Subscribe.
func (ex *Executor) Unsubscribe(jobID job.ID, ch <-chan bridge.Event) {
	ex.subsMu.Lock()
	defer ex.subsMu.Unlock()
	list := ex.subs[jobID]
	for i, c := range list {
		if c == ch {
			close(c)
			ex.subs[jobID] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

func (ex *Executor) broadcast(jobID job.ID, evt bridge.Event) {
	ex.subsMu.Lock()
	defer ex.subsMu.Unlock()
	for _, ch := range ex.subs[jobID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// SendInput forwards REPL continuation input to a PTY-adapter session.
func (ex *Executor) SendInput(jobID job.ID, data string) error {
	ex.mu.Lock()
	run, ok := ex.active[jobID]
	ex.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %d: not running: %w", jobID, kerrors.ErrInvalidState)
	}
	if run.adapter.Kind() != AdapterPTY {
		return fmt.Errorf("job %d: not a pty session: %w", jobID, kerrors.ErrInvalidState)
	}
	return ex.ptyAdapter.SendInput(run.req.SessionID, data)
}
