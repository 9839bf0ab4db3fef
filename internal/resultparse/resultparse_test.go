package resultparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MAF2414/kyco-sub004/internal/job"
)

func TestParseExtractsTrailingFence(t *testing.T) {
	response := "I refactored the function.\n\n" +
		"---\n" +
		"title: Tighten loop bounds\n" +
		"commit_subject: \"refactor: tighten loop bounds\"\n" +
		"status: ok\n" +
		"summary: Removed redundant bounds check\n" +
		"state: fixed\n" +
		"---\n"

	r, ok, err := Parse(response)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Tighten loop bounds", r.Title)
	assert.Equal(t, "refactor: tighten loop bounds", r.CommitSubject)
	assert.Equal(t, "fixed", r.State)
}

func TestParseNoFenceReturnsFalse(t *testing.T) {
	_, ok, err := Parse("just prose, no structured footer")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseSerializeRoundTrip(t *testing.T) {
	r := job.Result{
		Title:         "Add tests",
		CommitSubject: "tests: cover edge cases",
		CommitBody:    "Adds table-driven cases for the parser.",
		Status:        "ok",
		Summary:       "3 new cases",
		State:         "tests_pass",
	}
	block, err := Serialize(r)
	require.NoError(t, err)

	got, ok, err := Parse("preamble\n\n" + block)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r, got)
}
