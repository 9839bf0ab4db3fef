package stats

import (
	"context"
	"database/sql"
	"time"

	"github.com/MAF2414/kyco-sub004/internal/bridge"
	"github.com/MAF2414/kyco-sub004/internal/job"
	"github.com/MAF2414/kyco-sub004/internal/logging"
)

// fileToolKinds maps a tool name to the file access kind recorded in
// file_stats, for the tools whose input carries a file_path (spec §4.7:
// "every read/write/edit detected in tool input").
var fileToolKinds = map[string]string{
	"Read":         "read",
	"Write":        "write",
	"Edit":         "edit",
	"MultiEdit":    "edit",
	"NotebookEdit": "edit",
}

// Recorder is the Stats Recorder: synchronous, in-process writes to a local
// SQLite database, satisfying internal/executor.StatsSink structurally (no
// import of internal/executor is needed or taken).
type Recorder struct {
	db *sql.DB
}

// NewRecorder wraps an already-migrated *sql.DB (see Open).
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// RecordToolCall is called once per tool.use and once per tool.result event.
// A tool.use event's input is inspected for file-touching tools and recorded
// into file_stats immediately; a tool.result event writes the job/tool pair
// into tool_stats and updates the running per-tool aggregate, both in the
// same transaction (spec §4.7).
func (r *Recorder) RecordToolCall(ctx context.Context, jobID job.ID, mode string, e bridge.Event) {
	now := time.Now().UTC()
	switch e.Type {
	case bridge.EventToolUse:
		r.recordFileAccess(ctx, jobID, e, now)
	case bridge.EventToolResult:
		r.recordToolResult(ctx, jobID, mode, e, now)
	}
}

func (r *Recorder) recordFileAccess(ctx context.Context, jobID job.ID, e bridge.Event, now time.Time) {
	kind, ok := fileToolKinds[e.ToolName]
	if !ok {
		return
	}
	path, ok := e.ToolInput["file_path"].(string)
	if !ok || path == "" {
		return
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO file_stats (job_id, file_path, access_kind, occurred_at) VALUES (?, ?, ?, ?)`,
		uint64(jobID), path, kind, now,
	)
	if err != nil {
		logging.Warn("stats: record file access: %v", err)
	}
}

func (r *Recorder) recordToolResult(ctx context.Context, jobID job.ID, mode string, e bridge.Event, now time.Time) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		logging.Warn("stats: begin tool_stats tx: %v", err)
		return
	}
	defer func() { _ = tx.Rollback() }()

	success := e.Success
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tool_stats (job_id, mode, tool_name, success, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		uint64(jobID), mode, e.ToolName, success, now,
	); err != nil {
		logging.Warn("stats: insert tool_stats: %v", err)
		return
	}

	errInc := 0
	if !success {
		errInc = 1
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tool_usage_stats (tool_name, call_count, error_count) VALUES (?, 1, ?)
		 ON CONFLICT(tool_name) DO UPDATE SET
		   call_count = call_count + 1,
		   error_count = error_count + excluded.error_count`,
		e.ToolName, errInc,
	); err != nil {
		logging.Warn("stats: upsert tool_usage_stats: %v", err)
		return
	}

	if err := tx.Commit(); err != nil {
		logging.Warn("stats: commit tool_stats tx: %v", err)
	}
}

// RecordJobComplete writes the job_stats row for a finished job and rolls it
// into the day's per-mode aggregate, in one transaction.
func (r *Recorder) RecordJobComplete(ctx context.Context, jobID job.ID, mode string, s job.Stats, success bool) {
	now := time.Now().UTC()
	day := now.Format("2006-01-02")

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		logging.Warn("stats: begin job_stats tx: %v", err)
		return
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO job_stats (job_id, mode, success, duration_ms, input_tokens, output_tokens,
		   cache_read_tokens, cache_write_tokens, cost_usd, files_changed, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET
		   mode = excluded.mode, success = excluded.success, duration_ms = excluded.duration_ms,
		   input_tokens = excluded.input_tokens, output_tokens = excluded.output_tokens,
		   cache_read_tokens = excluded.cache_read_tokens, cache_write_tokens = excluded.cache_write_tokens,
		   cost_usd = excluded.cost_usd, files_changed = excluded.files_changed, completed_at = excluded.completed_at`,
		uint64(jobID), mode, success, s.Duration.Milliseconds(), s.InputTokens, s.OutputTokens,
		s.CacheRead, s.CacheWrite, s.CostUSD, s.FilesChanged, now,
	); err != nil {
		logging.Warn("stats: insert job_stats: %v", err)
		return
	}

	successInc := 0
	if success {
		successInc = 1
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO mode_daily_stats (day, mode, job_count, success_count, cost_usd) VALUES (?, ?, 1, ?, ?)
		 ON CONFLICT(day, mode) DO UPDATE SET
		   job_count = job_count + 1,
		   success_count = success_count + excluded.success_count,
		   cost_usd = cost_usd + excluded.cost_usd`,
		day, mode, successInc, s.CostUSD,
	); err != nil {
		logging.Warn("stats: upsert mode_daily_stats: %v", err)
		return
	}

	if err := tx.Commit(); err != nil {
		logging.Warn("stats: commit job_stats tx: %v", err)
	}
}
