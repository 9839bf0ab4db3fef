package scanner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanLineDefaultPrefix(t *testing.T) {
	tag, ok := ScanLine("", 1, "// @@claude:refactor tighten this loop")
	require.True(t, ok)
	assert.Equal(t, "claude", tag.Agent)
	assert.Equal(t, "refactor", tag.Mode)
	assert.Equal(t, "tighten this loop", tag.Description)
}

func TestScanLineCustomPrefix(t *testing.T) {
	tag, ok := ScanLine("##", 1, "# ##codex:fix handle nil pointer")
	require.True(t, ok)
	assert.Equal(t, "codex", tag.Agent)
	assert.Equal(t, "fix", tag.Mode)
}

func TestScanLineNoMatch(t *testing.T) {
	_, ok := ScanLine("", 1, "// just a regular comment")
	assert.False(t, ok)
}

func TestScanMultipleTags(t *testing.T) {
	src := strings.Join([]string{
		"package main",
		"// @@claude:review check this function",
		"func foo() {}",
		"// @@codex:tests add coverage",
	}, "\n")

	tags, err := Scan(strings.NewReader(src), "")
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, 2, tags[0].Line)
	assert.Equal(t, "review", tags[0].Mode)
	assert.Equal(t, 4, tags[1].Line)
	assert.Equal(t, "tests", tags[1].Mode)
}
