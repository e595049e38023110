// Package manifest loads the declarative per-pipeline policy file
// (pipeline_id, concurrency/retry limits, git workflow toggles) that
// cmd/server/main.go merges with the statically coded Worker factories
// before registering them with the Registry. Keeping policy in a YAML
// manifest rather than hardcoded alongside each factory mirrors this
// codebase's config-file-driven free-models registry.
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PipelineSpec is one entry of the manifest file.
type PipelineSpec struct {
	PipelineID    string           `yaml:"pipeline_id"`
	Name          string           `yaml:"name"`
	MaxConcurrent int              `yaml:"max_concurrent"`
	MaxRetries    int              `yaml:"max_retries"`
	GitWorkflow   *GitWorkflowSpec `yaml:"git_workflow,omitempty"`
}

// GitWorkflowSpec toggles the optional branch-scoped pre/post step.
type GitWorkflowSpec struct {
	Enabled      bool   `yaml:"enabled"`
	BranchPrefix string `yaml:"branch_prefix"`
}

// Manifest is the root document: a list of pipeline policies.
type Manifest struct {
	Pipelines []PipelineSpec `yaml:"pipelines"`
}

// Load reads and parses the manifest at path. A missing file is not an
// error: callers fall back to an empty manifest and rely entirely on the
// hardcoded Worker defaults.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Manifest{}, nil
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("op=manifest.Load path=%s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("op=manifest.Load path=%s: %w", path, err)
	}
	return m, nil
}

// Lookup returns the spec for pipelineID, if present.
func (m Manifest) Lookup(pipelineID string) (PipelineSpec, bool) {
	for _, p := range m.Pipelines {
		if p.PipelineID == pipelineID {
			return p, true
		}
	}
	return PipelineSpec{}, false
}
