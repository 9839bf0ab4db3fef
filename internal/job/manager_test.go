package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateQueueRun(t *testing.T) {
	m := NewManager()
	j := m.Create(CreateParams{Mode: "refactor", SourceFile: "/repo/a.go", Target: "foo"})
	assert.Equal(t, StatusPending, j.Status)

	require.NoError(t, m.Queue(j.ID))
	got, err := m.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)

	require.NoError(t, m.MarkRunning(j.ID))
	got, _ = m.Get(j.ID)
	assert.Equal(t, StatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)
}

func TestFileLockBlocksSecondRunner(t *testing.T) {
	m := NewManager()
	a := m.Create(CreateParams{Mode: "fix", SourceFile: "/repo/shared.go"})
	b := m.Create(CreateParams{Mode: "fix", SourceFile: "/repo/shared.go"})

	require.NoError(t, m.Queue(a.ID))
	require.NoError(t, m.Queue(b.ID))
	require.NoError(t, m.MarkRunning(a.ID))

	require.NoError(t, m.MarkRunning(b.ID))
	got, _ := m.Get(b.ID)
	assert.Equal(t, StatusBlocked, got.Status)
	require.NotNil(t, got.BlockedBy)
	assert.Equal(t, a.ID, *got.BlockedBy)

	require.NoError(t, m.MarkDone(a.ID, Outcome{}))

	got, _ = m.Get(b.ID)
	assert.Equal(t, StatusQueued, got.Status, "releasing the file should promote the blocked job back to queued")
}

func TestAbortQueuedFailsImmediately(t *testing.T) {
	m := NewManager()
	j := m.Create(CreateParams{Mode: "docs"})
	require.NoError(t, m.Queue(j.ID))

	prev, err := m.Abort(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, prev)

	got, _ := m.Get(j.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "aborted", got.ErrorMessage)
}

func TestInvalidTransitionRejected(t *testing.T) {
	m := NewManager()
	j := m.Create(CreateParams{Mode: "tests"})
	err := m.Apply(j.ID)
	assert.Error(t, err)
}

func TestContinueSessionRequiresDoneWithSession(t *testing.T) {
	m := NewManager()
	j := m.Create(CreateParams{Mode: "fix"})
	_, err := m.ContinueSession(j.ID, "follow up")
	assert.Error(t, err)

	require.NoError(t, m.Queue(j.ID))
	require.NoError(t, m.MarkRunning(j.ID))
	require.NoError(t, m.MarkDone(j.ID, Outcome{}))
	require.NoError(t, m.SetBridgeSessionID(j.ID, "sess-1"))

	next, err := m.ContinueSession(j.ID, "follow up")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", next.BridgeSessionID)
	assert.Equal(t, StatusPending, next.Status)
}

func TestGroupSettlesWhenAllSiblingsLeaveRunning(t *testing.T) {
	m := NewManager()
	g, jobs := m.CreateGroup([]string{"claude", "codex"}, CreateParams{Mode: "refactor", Target: "foo"})
	require.Len(t, jobs, 2)

	for _, j := range jobs {
		require.NoError(t, m.Queue(j.ID))
		require.NoError(t, m.MarkRunning(j.ID))
	}
	require.NoError(t, m.MarkDone(jobs[0].ID, Outcome{}))

	got, _ := m.GetGroup(g.ID)
	assert.Equal(t, GroupRunning, got.Status, "one sibling still running")

	require.NoError(t, m.MarkDone(jobs[1].ID, Outcome{}))
	got, _ = m.GetGroup(g.ID)
	assert.Equal(t, GroupComparing, got.Status)

	require.NoError(t, m.Select(g.ID, jobs[0].ID))
	got, _ = m.GetGroup(g.ID)
	assert.Equal(t, GroupSelected, got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, jobs[0].ID, *got.WinnerID)
}

func TestClearFinishedKeepsActiveJobs(t *testing.T) {
	m := NewManager()
	done := m.Create(CreateParams{Mode: "fix"})
	require.NoError(t, m.Queue(done.ID))
	require.NoError(t, m.MarkRunning(done.ID))
	require.NoError(t, m.MarkFailed(done.ID, "boom"))

	active := m.Create(CreateParams{Mode: "fix"})

	removed := m.ClearFinished()
	assert.Equal(t, 1, removed)

	_, err := m.Get(done.ID)
	assert.Error(t, err)
	_, err = m.Get(active.ID)
	assert.NoError(t, err)
}

func TestGenerationBumpsOnMutation(t *testing.T) {
	m := NewManager()
	g0 := m.Generation()
	j := m.Create(CreateParams{Mode: "fix"})
	assert.Greater(t, m.Generation(), g0)

	g1 := m.Generation()
	require.NoError(t, m.Queue(j.ID))
	assert.Greater(t, m.Generation(), g1)
}
