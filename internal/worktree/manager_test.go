package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func git(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v failed:\n%s", args, out)
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	git(t, dir, "init")
	git(t, dir, "config", "user.email", "test@example.com")
	git(t, dir, "config", "user.name", "Test User")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	git(t, dir, "add", "README.md")
	git(t, dir, "commit", "-m", "init")
	git(t, dir, "branch", "-m", "main")
	return dir
}

func TestParseNumstatOutputBasic(t *testing.T) {
	out := []byte("10\t5\tfile.go\x003\t0\tnew_file.txt\x00")
	results := parseNumstatOutput(out)
	require.Len(t, results, 2)
	require.Equal(t, numstatEntry{path: "file.go", added: 10, removed: 5}, results[0])
	require.Equal(t, numstatEntry{path: "new_file.txt", added: 3, removed: 0}, results[1])
}

func TestParseNumstatOutputBinary(t *testing.T) {
	out := []byte("-\t-\timage.png\x00")
	results := parseNumstatOutput(out)
	require.Len(t, results, 1)
	require.Equal(t, numstatEntry{path: "image.png", binary: true}, results[0])
}

func TestCreateWorktreeAndApplyChanges(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)

	m, err := NewManager(repo)
	require.NoError(t, err)

	info, err := m.CreateWorktree(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "main", info.BaseBranch)

	require.NoError(t, os.WriteFile(filepath.Join(info.Path, "README.md"), []byte("hello world\n"), 0o644))
	git(t, info.Path, "add", "README.md")
	git(t, info.Path, "commit", "-m", "change")

	diff, err := m.Diff(ctx, info.Path, "main")
	require.NoError(t, err)
	require.Contains(t, diff, "hello world")

	require.NoError(t, m.ApplyChanges(ctx, info.Path, "main", nil))

	content, err := os.ReadFile(filepath.Join(repo, "README.md"))
	require.NoError(t, err)
	require.Equal(t, "hello world\n", string(content))

	branch, err := m.CurrentBranch(ctx)
	require.NoError(t, err)
	require.Equal(t, "main", branch)
}

func TestApplyChangesBlockedByTrackedDirtyRepo(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)
	m, err := NewManager(repo)
	require.NoError(t, err)

	info, err := m.CreateWorktree(ctx, 2)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("dirty\n"), 0o644))

	err = m.ApplyChanges(ctx, info.Path, "main", nil)
	require.Error(t, err)
}

func TestCommitMessageFromResultFallback(t *testing.T) {
	msg := CommitMessageFromResult(42, "refactor", "src/a.go", "", "", "", "", "")
	require.Equal(t, "refactor: src/a.go", msg.Subject)
	require.Contains(t, msg.Body, "KYCO-Job: #42")
}

func TestCommitMessageFromResultPrefersParsed(t *testing.T) {
	msg := CommitMessageFromResult(7, "fix", "src/b.go", "Fix the bug", "", "Fixes #9", "", "")
	require.Equal(t, "Fix the bug", msg.Subject)
	require.Contains(t, msg.Body, "Fixes #9")
	require.Contains(t, msg.Body, "KYCO-Job: #7")
}

func TestSanitizeCommitSubjectTruncatesAt72(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "x"
	}
	out := sanitizeCommitSubject(long)
	require.Len(t, out, 72)
}
