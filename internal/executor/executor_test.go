package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/MAF2414/kyco-sub004/internal/bridge"
	"github.com/MAF2414/kyco-sub004/internal/config"
	"github.com/MAF2414/kyco-sub004/internal/job"
)

// fakeAdapter replays a fixed event sequence, letting tests exercise the
// Executor's event-handling loop without a real bridge or subprocess.
type fakeAdapter struct {
	events []bridge.Event
}

func (f *fakeAdapter) Kind() AdapterKind { return AdapterBridge }

func (f *fakeAdapter) Run(ctx context.Context, req RunRequest) (<-chan bridge.StreamItem, error) {
	out := make(chan bridge.StreamItem, len(f.events))
	for _, e := range f.events {
		out <- bridge.StreamItem{Event: e}
	}
	close(out)
	return out, nil
}

func (f *fakeAdapter) Interrupt(ctx context.Context, req RunRequest) error { return nil }

// blockingAdapter starts a session and then blocks until ctx is cancelled,
// recording whether Interrupt was called.
type blockingAdapter struct {
	interrupted chan struct{}
}

func newBlockingAdapter() *blockingAdapter {
	return &blockingAdapter{interrupted: make(chan struct{})}
}

func (a *blockingAdapter) Kind() AdapterKind { return AdapterBridge }

func (a *blockingAdapter) Run(ctx context.Context, req RunRequest) (<-chan bridge.StreamItem, error) {
	out := make(chan bridge.StreamItem, 1)
	out <- bridge.StreamItem{Event: bridge.Event{Type: bridge.EventSessionStart, SessionID: "sess-block", Timestamp: uint64(time.Now().UnixMilli())}}
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

func (a *blockingAdapter) Interrupt(ctx context.Context, req RunRequest) error {
	close(a.interrupted)
	return nil
}

func newTestExecutor(t *testing.T, adapter Adapter) (*Executor, *job.Manager) {
	t.Helper()
	mgr := job.NewManager()
	defs, err := config.NewDefinitionsStore("")
	require.NoError(t, err)
	ex := &Executor{
		jobs:                mgr,
		definitions:         defs,
		tracer:              otel.Tracer("executor-test"),
		sem:                 make(chan struct{}, 2),
		wake:                make(chan struct{}, 1),
		active:              make(map[job.ID]*activeRun),
		subs:                make(map[job.ID][]chan bridge.Event),
		testAdapterOverride: adapter,
	}
	return ex, mgr
}

func waitForStatus(t *testing.T, mgr *job.Manager, id job.ID, want job.Status, timeout time.Duration) *job.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		j, err := mgr.Get(id)
		require.NoError(t, err)
		if j.Status == want {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %d did not reach status %s in time", id, want)
	return nil
}

func TestDispatchRunsQueuedJobAndMarksDone(t *testing.T) {
	fake := &fakeAdapter{events: []bridge.Event{
		{Type: bridge.EventSessionStart, SessionID: "s1", Timestamp: uint64(time.Now().UnixMilli())},
		{Type: bridge.EventText, SessionID: "s1", Timestamp: uint64(time.Now().UnixMilli()), Text: "all done\n---\nstatus: fixed\nsummary: tightened the loop\n---"},
		{Type: bridge.EventSessionComplete, SessionID: "s1", Timestamp: uint64(time.Now().UnixMilli()), Success: true, Usage: &bridge.UsageStats{InputTokens: 10, OutputTokens: 20}},
	}}
	ex, mgr := newTestExecutor(t, fake)

	j := mgr.Create(job.CreateParams{Mode: "refactor", Prompt: "tighten this loop", Workspace: "/tmp/ws"})
	require.NoError(t, mgr.Queue(j.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ex.Start(ctx)

	done := waitForStatus(t, mgr, j.ID, job.StatusDone, time.Second)
	assert.Equal(t, "s1", done.BridgeSessionID)
	require.NotNil(t, done.Result)
	assert.Equal(t, "fixed", done.Result.Status)
	require.NotNil(t, done.Stats)
	assert.Equal(t, uint64(10), done.Stats.InputTokens)
}

func TestDispatchMarksFailedOnUnsuccessfulCompletion(t *testing.T) {
	fake := &fakeAdapter{events: []bridge.Event{
		{Type: bridge.EventSessionStart, SessionID: "s2", Timestamp: uint64(time.Now().UnixMilli())},
		{Type: bridge.EventSessionComplete, SessionID: "s2", Timestamp: uint64(time.Now().UnixMilli()), Success: false},
	}}
	ex, mgr := newTestExecutor(t, fake)

	j := mgr.Create(job.CreateParams{Mode: "fix", Prompt: "fix it", Workspace: "/tmp/ws"})
	require.NoError(t, mgr.Queue(j.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ex.Start(ctx)

	failed := waitForStatus(t, mgr, j.ID, job.StatusFailed, time.Second)
	assert.Equal(t, "agent reported failure", failed.ErrorMessage)
}

func TestAbortRunningJobInterruptsAdapterAndMarksFailed(t *testing.T) {
	adapter := newBlockingAdapter()
	ex, mgr := newTestExecutor(t, adapter)

	j := mgr.Create(job.CreateParams{Mode: "refactor", Prompt: "loop forever", Workspace: "/tmp/ws"})
	require.NoError(t, mgr.Queue(j.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ex.Start(ctx)

	waitForStatus(t, mgr, j.ID, job.StatusRunning, time.Second)

	require.NoError(t, ex.Abort(context.Background(), j.ID))

	select {
	case <-adapter.interrupted:
	case <-time.After(time.Second):
		t.Fatal("adapter was not interrupted")
	}

	failed := waitForStatus(t, mgr, j.ID, job.StatusFailed, time.Second)
	assert.Equal(t, "aborted", failed.ErrorMessage)
}

func TestRemapToWorktreeCopiesUntrackedFile(t *testing.T) {
	workspace := t.TempDir()
	worktree := t.TempDir()

	srcPath := filepath.Join(workspace, "pkg", "file.go")
	require.NoError(t, os.MkdirAll(filepath.Dir(srcPath), 0o755))
	require.NoError(t, os.WriteFile(srcPath, []byte("package pkg\n"), 0o644))

	j := &job.Job{SourceFile: srcPath, Target: srcPath + ":3", WorkspacePath: workspace}
	require.NoError(t, remapToWorktree(workspace, worktree, j))

	wantPath := filepath.Join(worktree, "pkg", "file.go")
	assert.Equal(t, wantPath, j.SourceFile)
	assert.Equal(t, wantPath+":3", j.Target)

	data, err := os.ReadFile(wantPath)
	require.NoError(t, err)
	assert.Equal(t, "package pkg\n", string(data))
}

func TestRemapToWorktreeSkipsPromptOnlyJob(t *testing.T) {
	j := &job.Job{WorkspacePath: "/workspace"}
	require.NoError(t, remapToWorktree("/workspace", "/worktree", j))
	assert.Empty(t, j.SourceFile)
}

func TestBuildPromptRendersModeTemplate(t *testing.T) {
	defs, err := config.NewDefinitionsStore("")
	require.NoError(t, err)

	j := &job.Job{Mode: "fix", Target: "file.go:10", SourceFile: "file.go", SourceLine: 10, Description: "nil pointer"}
	prompt, modeDef, err := buildPrompt(defs.Get(), j)
	require.NoError(t, err)
	assert.Equal(t, "fix", modeDef.Name)
	assert.Contains(t, prompt, "file.go:10")
	assert.Contains(t, prompt, "nil pointer")
}

func TestBuildPromptPrefersExplicitPrompt(t *testing.T) {
	defs, err := config.NewDefinitionsStore("")
	require.NoError(t, err)

	j := &job.Job{Mode: "fix", Prompt: "do exactly this"}
	prompt, _, err := buildPrompt(defs.Get(), j)
	require.NoError(t, err)
	assert.Equal(t, "do exactly this", prompt)
}
