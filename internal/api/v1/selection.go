package v1

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MAF2414/kyco-sub004/internal/job"
	"github.com/MAF2414/kyco-sub004/internal/logging"
	"github.com/MAF2414/kyco-sub004/internal/scanner"
)

// selectionRequest is the payload an IDE extension pushes when the user
// triggers a selection action (spec §4.2: "server opens a UI popup"). The
// popup itself lives in the IDE/UI layer, out of core scope; the core's
// job is to hand back what mode/agent choices are available for the
// selection's context.
type selectionRequest struct {
	FilePath     string `json:"file_path" binding:"required"`
	LineStart    int    `json:"line_start"`
	LineEnd      int    `json:"line_end"`
	SelectedText string `json:"selected_text"`
}

func (h *APIHandlers) handleSelection(c *gin.Context) {
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defs := h.defs.Get()
	c.JSON(http.StatusOK, gin.H{
		"file_path": req.FilePath,
		"modes":     defs.ModeNames(),
		"chains":    defs.ChainNames(),
	})
}

// batchRequest is the payload of spec §4.2's ganged-creation endpoint: a
// list of files to scan for comment-tag markers, each becoming one Job.
type batchRequest struct {
	Files  []string `json:"files" binding:"required"`
	Prefix string   `json:"prefix"`
	Queue  bool     `json:"queue"`
}

type batchFileResult struct {
	File  string   `json:"file"`
	JobID *uint64  `json:"job_id,omitempty"`
	Error string   `json:"error,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// handleBatch scans every requested file for comment-tag markers and
// creates one Job per tag found, grounded on internal/scanner's
// Scan(io.Reader, prefix) entry point.
func (h *APIHandlers) handleBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results := make([]batchFileResult, 0, len(req.Files))
	for _, file := range req.Files {
		result := h.scanAndCreate(file, req.Prefix, req.Queue)
		results = append(results, result)
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *APIHandlers) scanAndCreate(file, prefix string, queue bool) batchFileResult {
	f, err := h.openSource(file)
	if err != nil {
		return batchFileResult{File: file, Error: err.Error()}
	}
	defer f.Close()

	tags, err := scanner.Scan(f, prefix)
	if err != nil {
		return batchFileResult{File: file, Error: err.Error()}
	}
	if len(tags) == 0 {
		return batchFileResult{File: file}
	}

	raws := make([]string, 0, len(tags))
	var lastID *uint64
	for _, tag := range tags {
		j := h.jobs.Create(jobParamsFromTag(file, tag))
		id := uint64(j.ID)
		lastID = &id
		raws = append(raws, strings.TrimSpace(tag.Raw))
		if queue {
			if err := h.jobs.Queue(j.ID); err != nil {
				logging.Warn("batch: queue job %d from %s: %v", j.ID, file, err)
			}
		}
	}
	return batchFileResult{File: file, JobID: lastID, Tags: raws}
}

func (h *APIHandlers) openSource(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// jobParamsFromTag builds CreateParams from one scanned comment-tag marker
// (spec §6's `<prefix><agent>:<mode> <description>` grammar).
func jobParamsFromTag(file string, tag scanner.Tag) job.CreateParams {
	return job.CreateParams{
		Mode:        tag.Mode,
		AgentID:     tag.Agent,
		Description: tag.Description,
		Target:      fmt.Sprintf("%s:%d", file, tag.Line),
		SourceFile:  file,
		SourceLine:  tag.Line,
		RawTagLine:  tag.Raw,
		Scope: job.Scope{
			Kind:      job.ScopeLine,
			Path:      file,
			LineStart: tag.Line,
		},
	}
}
