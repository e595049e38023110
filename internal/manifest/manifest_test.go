package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alephauto/core/internal/manifest"
)

func TestLoad_MissingFileReturnsEmpty(t *testing.T) {
	m, err := manifest.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Empty(t, m.Pipelines)
}

func TestLoad_ParsesAndLooksUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipelines.yaml")
	content := `
pipelines:
  - pipeline_id: echo
    name: Echo
    max_concurrent: 5
    max_retries: 3
    git_workflow:
      enabled: true
      branch_prefix: bot
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := manifest.Load(path)
	require.NoError(t, err)
	require.Len(t, m.Pipelines, 1)

	spec, ok := m.Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, 5, spec.MaxConcurrent)
	assert.Equal(t, 3, spec.MaxRetries)
	require.NotNil(t, spec.GitWorkflow)
	assert.True(t, spec.GitWorkflow.Enabled)
	assert.Equal(t, "bot", spec.GitWorkflow.BranchPrefix)

	_, ok = m.Lookup("missing")
	assert.False(t, ok)
}
