// Package worktree implements the Git Worktree Manager (spec §4.6):
// isolated per-job branches, diff production, and merge-back. Grounded on
// original_source/src/git/manager/{mod,changes,types}.rs, translated from
// synchronous std::process::Command calls to os/exec with context
// cancellation, matching the teacher's subprocess-wrapping style used for
// its own git-adjacent tooling.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/MAF2414/kyco-sub004/internal/kerrors"
	"github.com/MAF2414/kyco-sub004/internal/logging"
)

// Info is the result of creating a worktree (spec §3 WorktreeInfo).
type Info struct {
	Path       string
	BaseBranch string
}

// CommitMessage is a suggested subject + optional body.
type CommitMessage struct {
	Subject string
	Body    string
}

// Manager wraps git subprocess calls scoped to one repository root.
type Manager struct {
	root         string
	worktreesDir string
}

// FindGitRoot runs `git rev-parse --show-toplevel` from path (or its parent,
// if path is a file) and returns the repository root, or an error if path is
// not inside a git repository.
func FindGitRoot(ctx context.Context, path string) (string, error) {
	dir := path
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		dir = filepath.Dir(path)
	}
	out, err := runGit(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("not a git repository: %s: %w", path, kerrors.ErrWorktree)
	}
	root := strings.TrimSpace(out)
	if root == "" {
		return "", fmt.Errorf("not a git repository: %s: %w", path, kerrors.ErrWorktree)
	}
	return root, nil
}

// NewManager creates a Manager rooted at root, failing if root is not a git
// repository (no .git directory).
func NewManager(root string) (*Manager, error) {
	if _, err := os.Stat(filepath.Join(root, ".git")); err != nil {
		return nil, fmt.Errorf("not a git repository: %s: %w", root, kerrors.ErrWorktree)
	}
	return &Manager{root: root, worktreesDir: filepath.Join(root, ".kyco", "worktrees")}, nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(ee.Stderr)), kerrors.ErrWorktree)
		}
		return "", fmt.Errorf("git %s: %w: %w", strings.Join(args, " "), kerrors.ErrWorktree, err)
	}
	return string(out), nil
}

// HeadSHA returns the current HEAD commit SHA.
func (m *Manager) HeadSHA(ctx context.Context) (string, error) {
	out, err := runGit(ctx, m.root, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// HasCommits reports whether the repository has at least one commit.
func (m *Manager) HasCommits(ctx context.Context) bool {
	_, err := m.HeadSHA(ctx)
	return err == nil
}

// CurrentBranch returns the repository's checked-out branch name.
func (m *Manager) CurrentBranch(ctx context.Context) (string, error) {
	out, err := runGit(ctx, m.root, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("get current branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// HasUncommittedChanges reports whether any file (tracked or untracked) is dirty.
func (m *Manager) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := runGit(ctx, m.root, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// HasTrackedUncommittedChanges reports whether any tracked file is dirty,
// ignoring untracked files (used by apply_changes per the Open Question
// decision in DESIGN.md: untracked files never block a merge).
func (m *Manager) HasTrackedUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := runGit(ctx, m.root, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// Root returns the repository root path.
func (m *Manager) Root() string {
	return m.root
}

// branchName returns the canonical per-job branch name.
func branchName(jobID uint64) string {
	return fmt.Sprintf("kyco/job-%d", jobID)
}

// WorktreePath returns the canonical per-job worktree directory.
func (m *Manager) WorktreePath(jobID uint64) string {
	return filepath.Join(m.worktreesDir, fmt.Sprintf("job-%d", jobID))
}

// CreateWorktree creates an isolated checkout on branch kyco/job-<id>,
// branched from the current HEAD of the active branch (spec §4.6).
func (m *Manager) CreateWorktree(ctx context.Context, jobID uint64) (Info, error) {
	if !m.HasCommits(ctx) {
		return Info{}, fmt.Errorf("repository has no commits: %w", kerrors.ErrWorktree)
	}
	path := m.WorktreePath(jobID)
	if _, err := os.Stat(path); err == nil {
		return Info{}, fmt.Errorf("worktree for job %d already exists at %s: %w", jobID, path, kerrors.ErrWorktree)
	}
	base, err := m.CurrentBranch(ctx)
	if err != nil {
		return Info{}, err
	}
	if err := os.MkdirAll(m.worktreesDir, 0o755); err != nil {
		return Info{}, fmt.Errorf("create worktrees dir: %w", err)
	}
	branch := branchName(jobID)
	if _, err := runGit(ctx, m.root, "worktree", "add", "-b", branch, path, "HEAD"); err != nil {
		return Info{}, fmt.Errorf("create worktree for job %d: %w", jobID, err)
	}
	logging.Event("worktree", "created", logging.Fields{"job_id": jobID, "path": path, "base_branch": base})
	return Info{Path: path, BaseBranch: base}, nil
}

// Diff returns the unified diff between worktree HEAD and base branch.
func (m *Manager) Diff(ctx context.Context, worktree, baseBranch string) (string, error) {
	out, err := runGit(ctx, worktree, "diff", baseBranch+"...HEAD")
	if err != nil {
		return "", err
	}
	return out, nil
}

// UntrackedFiles lists paths present in worktree but not tracked by git.
func (m *Manager) UntrackedFiles(ctx context.Context, worktree string) ([]string, error) {
	out, err := runGit(ctx, worktree, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	return splitNonEmptyLines(out), nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// RemoveWorktreeByPath force-removes a worktree registration and directory.
func (m *Manager) RemoveWorktreeByPath(ctx context.Context, path string) error {
	if _, err := runGit(ctx, m.root, "worktree", "remove", "--force", path); err != nil {
		return fmt.Errorf("remove worktree %s: %w", path, err)
	}
	return nil
}

// commitAllInDir stages and commits everything in dir. It returns false,
// nil if there was nothing to commit.
func (m *Manager) commitAllInDir(ctx context.Context, dir string, msg CommitMessage) (bool, error) {
	if _, err := runGit(ctx, dir, "add", "-A"); err != nil {
		return false, fmt.Errorf("stage changes in %s: %w", dir, err)
	}
	args := []string{"commit", "-m", msg.Subject}
	if strings.TrimSpace(msg.Body) != "" {
		args = append(args, "-m", msg.Body)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err == nil {
		return true, nil
	}
	if strings.Contains(string(out), "nothing to commit") {
		logging.Debug("git commit in %s: nothing to commit", dir)
		return false, nil
	}
	return false, fmt.Errorf("git commit in %s: %s: %w", dir, strings.TrimSpace(string(out)), kerrors.ErrWorktree)
}

// CommitRootChanges commits any dirty files in the repository root.
func (m *Manager) CommitRootChanges(ctx context.Context, msg CommitMessage) (bool, error) {
	dirty, err := m.HasUncommittedChanges(ctx)
	if err != nil {
		return false, err
	}
	if !dirty {
		return false, nil
	}
	return m.commitAllInDir(ctx, m.root, msg)
}

// ApplyChanges merges a job's worktree branch into baseBranch, matching
// original_source/src/git/manager/changes.rs::apply_changes exactly:
// refuses if the main repo has tracked/staged uncommitted changes,
// auto-commits any dirty worktree state, checks out baseBranch, merges,
// and restores the original branch (aborting + restoring on failure).
func (m *Manager) ApplyChanges(ctx context.Context, worktreePath, baseBranch string, msg *CommitMessage) error {
	tracked, err := m.HasTrackedUncommittedChanges(ctx)
	if err != nil {
		return err
	}
	if tracked {
		return fmt.Errorf("cannot apply changes: repository has uncommitted changes, commit or stash first: %w", kerrors.ErrWorktree)
	}

	dirty, err := runGit(ctx, worktreePath, "status", "--porcelain")
	if err != nil {
		return err
	}
	if dirty != "" {
		fallback := CommitMessage{Subject: "Auto-commit remaining changes before merge"}
		commitMsg := fallback
		if msg != nil {
			commitMsg = *msg
		}
		if _, err := m.commitAllInDir(ctx, worktreePath, commitMsg); err != nil {
			return err
		}
	}

	worktreeBranch, err := runGit(ctx, worktreePath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return fmt.Errorf("get worktree branch name: %w", err)
	}
	worktreeBranch = strings.TrimSpace(worktreeBranch)

	currentBranch, err := m.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	shouldRestore := currentBranch != baseBranch && currentBranch != "HEAD"

	if currentBranch != baseBranch {
		if _, err := runGit(ctx, m.root, "checkout", baseBranch); err != nil {
			return fmt.Errorf("checkout base branch %q: %w", baseBranch, err)
		}
	}

	mergeCmd := exec.CommandContext(ctx, "git", "merge", worktreeBranch, "--no-edit")
	mergeCmd.Dir = m.root
	mergeOut, mergeErr := mergeCmd.CombinedOutput()
	if mergeErr != nil {
		stderr := strings.TrimSpace(string(mergeOut))
		abortCmd := exec.CommandContext(ctx, "git", "merge", "--abort")
		abortCmd.Dir = m.root
		aborted := abortCmd.Run() == nil

		if shouldRestore {
			restoreCmd := exec.CommandContext(ctx, "git", "checkout", currentBranch)
			restoreCmd.Dir = m.root
			_ = restoreCmd.Run()
		}

		if aborted {
			return fmt.Errorf("git merge failed (merge aborted): %s: %w", stderr, kerrors.ErrMergeConflict)
		}
		return fmt.Errorf("git merge failed (could not abort, run `git merge --abort` manually): %s: %w", stderr, kerrors.ErrMergeConflict)
	}

	if shouldRestore {
		if _, err := runGit(ctx, m.root, "checkout", currentBranch); err != nil {
			logging.Warn("failed to restore branch %q after merge: %v", currentBranch, err)
		}
	}
	return nil
}

// CommitMessageFromResult derives a CommitMessage following
// original_source/src/git/manager/types.rs::CommitMessage::from_job exactly:
// prefer commit_subject/title (sanitized, 72-char cap) for the subject;
// prefer commit_body, else details+summary joined by a blank line, for the
// body; always append a KYCO-Job trailer.
func CommitMessageFromResult(jobID uint64, mode, target, commitSubject, title, commitBody, details, summary string) CommitMessage {
	subjectSource := firstNonEmpty(commitSubject, title)
	var subject string
	if subjectSource != "" {
		subject = sanitizeCommitSubject(subjectSource)
	} else {
		subject = sanitizeCommitSubject(fmt.Sprintf("%s: %s", mode, target))
	}

	var body string
	switch {
	case strings.TrimSpace(commitBody) != "":
		body = strings.TrimSpace(commitBody)
	default:
		var paragraphs []string
		if strings.TrimSpace(details) != "" {
			paragraphs = append(paragraphs, strings.TrimSpace(details))
		}
		if strings.TrimSpace(summary) != "" {
			paragraphs = append(paragraphs, strings.TrimSpace(summary))
		}
		body = strings.Join(paragraphs, "\n\n")
	}
	trailer := fmt.Sprintf("KYCO-Job: #%d", jobID)
	if body == "" {
		body = trailer
	} else {
		body = body + "\n\n" + trailer
	}
	return CommitMessage{Subject: subject, Body: body}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

const maxSubjectLen = 72

func sanitizeCommitSubject(raw string) string {
	firstLine := raw
	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		firstLine = raw[:idx]
	}
	firstLine = strings.TrimSpace(firstLine)
	var b strings.Builder
	for _, r := range firstLine {
		if r != '\r' && r != '\n' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return "kyco: update"
	}
	runes := []rune(out)
	if len(runes) > maxSubjectLen {
		out = string(runes[:maxSubjectLen])
	}
	return out
}
