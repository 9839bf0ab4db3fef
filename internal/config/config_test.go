package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Executor.MaxConcurrentJobs)
	assert.Equal(t, "127.0.0.1", cfg.ControlPlane.BindAddr)
}

func TestLoadOverlaysFileOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("executor:\n  max_concurrent_jobs: 8\ncontrol_plane:\n  port: 9999\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Executor.MaxConcurrentJobs)
	assert.Equal(t, 9999, cfg.ControlPlane.Port)
	assert.Equal(t, "127.0.0.1", cfg.ControlPlane.BindAddr, "unset fields keep Default()'s values")
}

func TestDefaultModeTemplatesCoverBuiltinModes(t *testing.T) {
	modes := DefaultModeTemplates()
	for _, name := range []string{"refactor", "fix", "tests", "docs", "review"} {
		_, ok := modes[name]
		assert.True(t, ok, "missing built-in mode %q", name)
	}
}

func TestLoadDefinitionsOverlaysUserModes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
modes:
  custom:
    name: custom
    prompt_template: "do {target}"
chains:
  review_fix:
    name: review_fix
    steps:
      - mode: review
      - mode: fix
        trigger_on: [issues_found]
`), 0o644))

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	_, ok := defs.Mode("refactor")
	assert.True(t, ok, "built-ins survive overlay")
	_, ok = defs.Mode("custom")
	assert.True(t, ok)
	chain, ok := defs.Chain("review_fix")
	require.True(t, ok)
	assert.Len(t, chain.Steps, 2)
	assert.Equal(t, []string{"issues_found"}, chain.Steps[1].TriggerOn)
}

func TestStoreReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("executor:\n  max_concurrent_jobs: 2\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	store := NewStore(cfg, path)
	assert.Equal(t, 2, store.Get().Executor.MaxConcurrentJobs)

	require.NoError(t, os.WriteFile(path, []byte("executor:\n  max_concurrent_jobs: 6\n"), 0o644))
	require.NoError(t, store.Reload())
	assert.Equal(t, 6, store.Get().Executor.MaxConcurrentJobs)
}
