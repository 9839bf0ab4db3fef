package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/MAF2414/kyco-sub004/internal/kerrors"
)

// FileStatus is the per-file change classification in a DiffReport.
type FileStatus string

const (
	StatusAdded     FileStatus = "added"
	StatusModified  FileStatus = "modified"
	StatusDeleted   FileStatus = "deleted"
	StatusRenamed   FileStatus = "renamed"
	StatusCopied    FileStatus = "copied"
	StatusUntracked FileStatus = "untracked"
)

// FileDiff is the per-file entry of a DiffReport.
type FileDiff struct {
	Path         string
	Status       FileStatus
	LinesAdded   int
	LinesRemoved int
	IsBinary     bool
	Patch        string
	RenamedFrom  string
}

// DiffReport is the aggregated structured diff (spec §4.6, §3).
type DiffReport struct {
	Files        []FileDiff
	TotalAdded   int
	TotalRemoved int
	FilesChanged int
}

// DiffSettings tunes DiffReport generation.
type DiffSettings struct {
	IgnoreWhitespace bool
	ContextLines     int
	IncludeUntracked bool
}

// DiffReport produces a structured per-file breakdown between worktree HEAD
// and baseBranch, parsed from `git diff --numstat -z` (spec §4.6).
// Grounded on original_source/src/git/manager/types.rs's
// parse_numstat_output/parse_null_delimited.
func (m *Manager) DiffReport(ctx context.Context, worktree, baseBranch string, settings DiffSettings) (DiffReport, error) {
	args := []string{"diff", "--numstat", "-z"}
	if settings.IgnoreWhitespace {
		args = append(args, "-w")
	}
	args = append(args, baseBranch+"...HEAD")

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = worktree
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return DiffReport{}, fmt.Errorf("git diff --numstat: %s: %w", strings.TrimSpace(string(ee.Stderr)), kerrors.ErrWorktree)
		}
		return DiffReport{}, fmt.Errorf("git diff --numstat: %w: %w", kerrors.ErrWorktree, err)
	}

	statusOut, err := runGit(ctx, worktree, "diff", "--name-status", baseBranch+"...HEAD")
	if err != nil {
		return DiffReport{}, err
	}
	statusByPath := parseNameStatus(statusOut)

	entries := parseNumstatOutput(out)
	report := DiffReport{}
	for _, e := range entries {
		fd := FileDiff{
			Path:         e.path,
			LinesAdded:   e.added,
			LinesRemoved: e.removed,
			IsBinary:     e.binary,
			Status:       StatusModified,
		}
		if st, ok := statusByPath[e.path]; ok {
			fd.Status = st.status
			fd.RenamedFrom = st.from
		}
		report.Files = append(report.Files, fd)
		report.TotalAdded += e.added
		report.TotalRemoved += e.removed
	}

	if settings.IncludeUntracked {
		untracked, err := m.UntrackedFiles(ctx, worktree)
		if err != nil {
			return DiffReport{}, err
		}
		for _, path := range untracked {
			report.Files = append(report.Files, FileDiff{Path: path, Status: StatusUntracked})
		}
	}

	report.FilesChanged = len(report.Files)
	return report, nil
}

type fileStatusEntry struct {
	status FileStatus
	from   string
}

func parseNameStatus(out string) map[string]fileStatusEntry {
	res := make(map[string]fileStatusEntry)
	for _, line := range splitNonEmptyLines(out) {
		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			continue
		}
		code := parts[0]
		switch {
		case strings.HasPrefix(code, "R"):
			if len(parts) >= 3 {
				res[parts[2]] = fileStatusEntry{status: StatusRenamed, from: parts[1]}
			}
		case strings.HasPrefix(code, "C"):
			if len(parts) >= 3 {
				res[parts[2]] = fileStatusEntry{status: StatusCopied, from: parts[1]}
			}
		case code == "A":
			res[parts[1]] = fileStatusEntry{status: StatusAdded}
		case code == "D":
			res[parts[1]] = fileStatusEntry{status: StatusDeleted}
		default:
			res[parts[1]] = fileStatusEntry{status: StatusModified}
		}
	}
	return res
}

type numstatEntry struct {
	path    string
	added   int
	removed int
	binary  bool
}

// parseNumstatOutput mirrors original_source's parse_numstat_output: each
// NUL-terminated record is tab-separated `added\tremoved\tpath`, with "-"
// for both counts on binary files.
func parseNumstatOutput(output []byte) []numstatEntry {
	var results []numstatEntry
	for _, rec := range bytes.Split(output, []byte{0}) {
		if len(rec) == 0 {
			continue
		}
		line := string(rec)
		for _, ln := range strings.Split(line, "\n") {
			if ln == "" {
				continue
			}
			parts := strings.Split(ln, "\t")
			if len(parts) < 3 {
				continue
			}
			var added, removed int
			var binary bool
			if parts[0] == "-" && parts[1] == "-" {
				binary = true
			} else {
				added, _ = strconv.Atoi(parts[0])
				removed, _ = strconv.Atoi(parts[1])
			}
			path := parts[len(parts)-1]
			if path == "" {
				continue
			}
			results = append(results, numstatEntry{path: path, added: added, removed: removed, binary: binary})
		}
	}
	return results
}
