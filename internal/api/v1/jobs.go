package v1

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MAF2414/kyco-sub004/internal/job"
	"github.com/MAF2414/kyco-sub004/internal/logging"
	"github.com/MAF2414/kyco-sub004/internal/worktree"
)

// registerJobRoutes mounts spec §4.2's /ctl/jobs surface plus the
// SPEC_FULL.md additions (diff/merge/reject/output), grounded on the
// teacher's one-route-group-per-resource split (agent_runs.go).
func (h *APIHandlers) registerJobRoutes(group *gin.RouterGroup) {
	group.GET("", h.listJobs)
	group.POST("", h.createJobs)
	group.GET("/:id", h.getJob)
	group.DELETE("/:id", h.deleteJob)
	group.POST("/:id/queue", h.queueJob)
	group.POST("/:id/abort", h.abortJob)
	group.POST("/:id/continue", h.continueJob)
	group.POST("/:id/select", h.selectGroupWinner)
	group.POST("/:id/merge", h.mergeJob)
	group.POST("/:id/reject", h.rejectJob)
	group.GET("/:id/diff", h.diffJob)
	group.GET("/:id/output", h.jobOutput)
}

func (h *APIHandlers) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"jobs":       h.jobs.List(),
		"generation": h.jobs.Generation(),
	})
}

func (h *APIHandlers) getJob(c *gin.Context) {
	id, err := parseJobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	j, err := h.jobs.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": j})
}

// createJobRequest is the create payload of spec §4.2: a single-file
// selection target plus a mode name that may resolve to either a
// ModeDefinition (ordinary job) or a ChainDefinition (multi-step run), and
// an optional agents list that fans out into a comparison Group.
type createJobRequest struct {
	FilePath       string   `json:"file_path"`
	LineStart      int      `json:"line_start"`
	LineEnd        int      `json:"line_end"`
	SelectedText   string   `json:"selected_text"`
	Mode           string   `json:"mode" binding:"required"`
	Prompt         string   `json:"prompt"`
	Description    string   `json:"description"`
	IDEContext     string   `json:"ide_context"`
	Agent          string   `json:"agent"`
	Agents         []string `json:"agents"`
	Queue          bool     `json:"queue"`
	ForceWorktree  bool     `json:"force_worktree"`
	PermissionMode string   `json:"permission_mode"`
	Workspace      string   `json:"workspace"`
}

func scopeFromRequest(req createJobRequest) job.Scope {
	switch {
	case req.LineEnd > 0 && req.LineEnd != req.LineStart:
		return job.Scope{Kind: job.ScopeRange, Path: req.FilePath, LineStart: req.LineStart, LineEnd: req.LineEnd}
	case req.LineStart > 0:
		return job.Scope{Kind: job.ScopeLine, Path: req.FilePath, LineStart: req.LineStart}
	default:
		return job.Scope{Kind: job.ScopeFreeText, Path: req.FilePath, FreeText: req.SelectedText}
	}
}

func scopeTarget(req createJobRequest, scope job.Scope) string {
	if req.FilePath == "" {
		return req.SelectedText
	}
	switch scope.Kind {
	case job.ScopeLine:
		return fmt.Sprintf("%s:%d", req.FilePath, req.LineStart)
	case job.ScopeRange:
		return fmt.Sprintf("%s:%d-%d", req.FilePath, req.LineStart, req.LineEnd)
	default:
		return req.FilePath
	}
}

func (h *APIHandlers) createJobs(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scope := scopeFromRequest(req)
	base := job.CreateParams{
		Mode:           req.Mode,
		Scope:          scope,
		Target:         scopeTarget(req, scope),
		Description:    req.Description,
		Prompt:         req.Prompt,
		IDEContext:     req.IDEContext,
		Workspace:      req.Workspace,
		SourceFile:     req.FilePath,
		SourceLine:     req.LineStart,
		ForceWorktree:  req.ForceWorktree,
		PermissionMode: req.PermissionMode,
	}

	// More than one agent: a comparison Group, one Job per agent (spec §4.2,
	// "the server creates a Group with one Job per agent").
	if len(req.Agents) > 1 {
		group, jobs := h.jobs.CreateGroup(req.Agents, base)
		ids := make([]job.ID, len(jobs))
		for i, j := range jobs {
			ids[i] = j.ID
		}
		if req.Queue {
			for _, id := range ids {
				if err := h.jobs.Queue(id); err != nil {
					writeError(c, err)
					return
				}
			}
		}
		c.JSON(http.StatusCreated, gin.H{"group_id": group.ID, "job_ids": ids})
		return
	}

	base.AgentID = req.Agent
	if len(req.Agents) == 1 {
		base.AgentID = req.Agents[0]
	}

	if _, ok := h.defs.Get().Chain(req.Mode); ok {
		base.ChainName = req.Mode
		j := h.jobs.Create(base)
		if req.Queue {
			go h.runChain(j.ID)
		}
		c.JSON(http.StatusCreated, gin.H{"job_id": j.ID})
		return
	}

	if _, ok := h.defs.Get().Mode(req.Mode); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown mode %q", req.Mode)})
		return
	}

	j := h.jobs.Create(base)
	if req.Queue {
		if err := h.jobs.Queue(j.ID); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusCreated, gin.H{"job_id": j.ID})
}

// runChain drives a chain job to completion in the background, registering
// a cancel func so POST /ctl/jobs/{id}/abort can interrupt it.
func (h *APIHandlers) runChain(parentID job.ID) {
	ctx := h.chainRuns.start(parentID)
	defer h.chainRuns.finish(parentID)
	if _, err := h.chainEngine.Run(ctx, parentID); err != nil {
		logging.Warn("chain job %d: run: %v", parentID, err)
	}
}

func (h *APIHandlers) queueJob(c *gin.Context) {
	id, err := parseJobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	j, err := h.jobs.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	if j.ChainName != "" {
		go h.runChain(id)
		c.JSON(http.StatusOK, gin.H{"status": "queued"})
		return
	}
	if err := h.jobs.Queue(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}

func (h *APIHandlers) abortJob(c *gin.Context) {
	id, err := parseJobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	j, err := h.jobs.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	if j.ChainName != "" && h.chainRuns.abort(id) {
		c.JSON(http.StatusOK, gin.H{"status": "aborting"})
		return
	}
	if err := h.executor.Abort(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "aborted"})
}

type continueJobRequest struct {
	Prompt string `json:"prompt"`
}

func (h *APIHandlers) continueJob(c *gin.Context) {
	id, err := parseJobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	var req continueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	next, err := h.jobs.ContinueSession(id, req.Prompt)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.jobs.Queue(next.ID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job_id": next.ID})
}

func (h *APIHandlers) deleteJob(c *gin.Context) {
	id, err := parseJobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	j, err := h.jobs.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	if h.worktrees != nil && j.WorktreePath != "" {
		if err := h.worktrees.RemoveWorktreeByPath(c.Request.Context(), j.WorktreePath); err != nil {
			logging.Warn("delete job %d: remove worktree: %v", id, err)
		}
	}
	if err := h.jobs.Delete(id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *APIHandlers) selectGroupWinner(c *gin.Context) {
	id, err := parseJobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	j, err := h.jobs.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	if j.GroupID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job is not part of a group"})
		return
	}
	if err := h.jobs.Select(*j.GroupID, id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "selected", "group_id": *j.GroupID, "winner": id})
}

func (h *APIHandlers) mergeJob(c *gin.Context) {
	if h.worktrees == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no worktree manager configured"})
		return
	}
	id, err := parseJobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	j, err := h.jobs.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	if j.Status != job.StatusDone {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("job %d is %s, not Done", id, j.Status)})
		return
	}
	if j.WorktreePath == "" {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("job %d has no worktree", id)})
		return
	}

	var result job.Result
	if j.Result != nil {
		result = *j.Result
	}
	msg := worktree.CommitMessageFromResult(uint64(id), j.Mode, j.Target, result.CommitSubject, result.Title, result.CommitBody, result.Details, result.Summary)

	ctx := c.Request.Context()
	if err := h.worktrees.ApplyChanges(ctx, j.WorktreePath, j.BaseBranch, &msg); err != nil {
		writeError(c, err)
		return
	}
	if err := h.worktrees.RemoveWorktreeByPath(ctx, j.WorktreePath); err != nil {
		logging.Warn("merge job %d: remove worktree: %v", id, err)
	}
	if err := h.jobs.Apply(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "merged"})
}

func (h *APIHandlers) rejectJob(c *gin.Context) {
	id, err := parseJobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	j, err := h.jobs.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	if h.worktrees != nil && j.WorktreePath != "" {
		if err := h.worktrees.RemoveWorktreeByPath(c.Request.Context(), j.WorktreePath); err != nil {
			logging.Warn("reject job %d: remove worktree: %v", id, err)
		}
	}
	if err := h.jobs.Reject(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

// diffJob serves the unified diff by default, or the structured per-file
// DiffReport when ?format=report (SPEC_FULL.md §3 supplemented feature).
func (h *APIHandlers) diffJob(c *gin.Context) {
	if h.worktrees == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "no worktree manager configured"})
		return
	}
	id, err := parseJobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	j, err := h.jobs.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	if j.WorktreePath == "" {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("job %d has no worktree", id)})
		return
	}

	ctx := c.Request.Context()
	if c.Query("format") == "report" {
		report, err := h.worktrees.DiffReport(ctx, j.WorktreePath, j.BaseBranch, worktree.DiffSettings{})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"report": report})
		return
	}

	diff, err := h.worktrees.Diff(ctx, j.WorktreePath, j.BaseBranch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"diff": diff})
}

func (h *APIHandlers) jobOutput(c *gin.Context) {
	id, err := parseJobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	j, err := h.jobs.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"full_response": j.FullResponse,
		"result":        j.Result,
		"stats":         j.Stats,
		"log_events":    j.LogEvents,
	})
}
