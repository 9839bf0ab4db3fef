package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MAF2414/kyco-sub004/internal/job"
	"github.com/MAF2414/kyco-sub004/internal/kerrors"
)

// remapToWorktree rewrites j's SourceFile and Target from
// workspace-root-relative to worktree-relative paths before the job is
// handed to an adapter (spec §4.3). Prompt-only jobs are left untouched.
// If the source file does not yet exist in the worktree (an untracked
// input), it is copied in from the workspace. j is mutated in place; it
// must be a private clone, never the Manager's own Job.
func remapToWorktree(workspaceRoot, worktreePath string, j *job.Job) error {
	if worktreePath == "" || j.IsPromptOnly() {
		return nil
	}
	rel, err := filepath.Rel(workspaceRoot, j.SourceFile)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("source file %s is outside workspace %s: %w", j.SourceFile, workspaceRoot, kerrors.ErrInvalidState)
	}
	newPath := filepath.Join(worktreePath, rel)

	if _, err := os.Stat(newPath); os.IsNotExist(err) {
		if data, rerr := os.ReadFile(j.SourceFile); rerr == nil {
			if mkErr := os.MkdirAll(filepath.Dir(newPath), 0o755); mkErr != nil {
				return fmt.Errorf("remap %s into worktree: %w", j.SourceFile, mkErr)
			}
			if wErr := os.WriteFile(newPath, data, 0o644); wErr != nil {
				return fmt.Errorf("remap %s into worktree: %w", j.SourceFile, wErr)
			}
		}
	}

	if j.Target != "" && strings.Contains(j.Target, j.SourceFile) {
		j.Target = strings.ReplaceAll(j.Target, j.SourceFile, newPath)
	}
	j.SourceFile = newPath
	return nil
}
