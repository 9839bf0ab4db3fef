package stats

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MAF2414/kyco-sub004/internal/bridge"
	"github.com/MAF2414/kyco-sub004/internal/job"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRecorder(db)
}

func TestRecordToolCallWritesFileStatsOnToolUse(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	r.RecordToolCall(ctx, job.ID(1), "bugfix", bridge.Event{
		Type:      bridge.EventToolUse,
		ToolName:  "Edit",
		ToolInput: map[string]any{"file_path": "src/main.go"},
	})

	var count int
	var path, kind string
	require.NoError(t, r.db.QueryRow(
		`SELECT COUNT(*), file_path, access_kind FROM file_stats WHERE job_id = ?`, uint64(1),
	).Scan(&count, &path, &kind))
	assert.Equal(t, 1, count)
	assert.Equal(t, "src/main.go", path)
	assert.Equal(t, "edit", kind)
}

func TestRecordToolCallIgnoresNonFileTools(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	r.RecordToolCall(ctx, job.ID(1), "bugfix", bridge.Event{
		Type:      bridge.EventToolUse,
		ToolName:  "Bash",
		ToolInput: map[string]any{"command": "go test ./..."},
	})

	var count int
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*) FROM file_stats`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestRecordToolCallWritesToolStatsAndAggregateOnToolResult(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	r.RecordToolCall(ctx, job.ID(7), "review", bridge.Event{
		Type:     bridge.EventToolResult,
		ToolName: "Read",
		Success:  true,
	})
	r.RecordToolCall(ctx, job.ID(7), "review", bridge.Event{
		Type:     bridge.EventToolResult,
		ToolName: "Read",
		Success:  false,
	})

	var toolCount int
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*) FROM tool_stats WHERE job_id = ?`, uint64(7)).Scan(&toolCount))
	assert.Equal(t, 2, toolCount)

	var calls, errs int
	require.NoError(t, r.db.QueryRow(
		`SELECT call_count, error_count FROM tool_usage_stats WHERE tool_name = ?`, "Read",
	).Scan(&calls, &errs))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, errs)
}

func TestRecordJobCompleteWritesJobStatsAndDailyAggregate(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	s := job.Stats{FilesChanged: 3, InputTokens: 100, OutputTokens: 50, CostUSD: 0.25}
	r.RecordJobComplete(ctx, job.ID(42), "bugfix", s, true)

	var mode string
	var success bool
	var filesChanged int
	require.NoError(t, r.db.QueryRow(
		`SELECT mode, success, files_changed FROM job_stats WHERE job_id = ?`, uint64(42),
	).Scan(&mode, &success, &filesChanged))
	assert.Equal(t, "bugfix", mode)
	assert.True(t, success)
	assert.Equal(t, 3, filesChanged)

	var jobCount, successCount int
	var cost float64
	row := r.db.QueryRow(
		`SELECT job_count, success_count, cost_usd FROM mode_daily_stats WHERE mode = ?`, "bugfix",
	)
	require.NoError(t, row.Scan(&jobCount, &successCount, &cost))
	assert.Equal(t, 1, jobCount)
	assert.Equal(t, 1, successCount)
	assert.InDelta(t, 0.25, cost, 0.0001)
}

func TestRecordJobCompleteTwiceAccumulatesDailyAggregate(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	r.RecordJobComplete(ctx, job.ID(1), "bugfix", job.Stats{CostUSD: 0.10}, true)
	r.RecordJobComplete(ctx, job.ID(2), "bugfix", job.Stats{CostUSD: 0.20}, false)

	var jobCount, successCount int
	var cost float64
	row := r.db.QueryRow(
		`SELECT job_count, success_count, cost_usd FROM mode_daily_stats WHERE mode = ?`, "bugfix",
	)
	require.NoError(t, row.Scan(&jobCount, &successCount, &cost))
	assert.Equal(t, 2, jobCount)
	assert.Equal(t, 1, successCount)
	assert.InDelta(t, 0.30, cost, 0.0001)
}
