package domain

import "context"

// Worker is the capability set the Executor drives. execute is the only
// required operation; the rest are detected via interface type-assertions,
// mirroring how the original AI/TextExtractor ports in this codebase expose
// optional behavior without reflection.
type Worker interface {
	Execute(ctx context.Context, jobData map[string]any) (map[string]any, error)
}

// ShutdownableWorker is implemented by workers that need to release
// resources during graceful shutdown. Absence is tolerated: the Registry
// treats shutdown as best-effort.
type ShutdownableWorker interface {
	Shutdown(ctx context.Context) error
}

// CommitMessageWorker is implemented by workers that want to customize the
// commit message used by the optional git workflow step. Absent
// implementations fall back to a generated default.
type CommitMessageWorker interface {
	GenerateCommitMessage(job *Job) string
}

// PRContextWorker is implemented by workers that want to customize the pull
// request description opened by the optional git workflow step.
type PRContextWorker interface {
	GeneratePRContext(job *Job) (title, body string)
}

// WorkerFactory constructs a Worker instance for a pipeline.
type WorkerFactory func(ctx context.Context) (Worker, error)

// WorkerDescriptor describes one pipeline's worker factory and per-pipeline
// policy. The Registry does not consume this type: cmd/server/main.go
// registers registry.Descriptor values whose factories build executors.
type WorkerDescriptor struct {
	PipelineID    string
	Factory       WorkerFactory
	MaxConcurrent int
	MaxRetries    int
	GitWorkflow   *GitWorkflowConfig
	Timeout       int64 // per-job execution timeout, milliseconds; 0 = use executor default
}

// GitWorkflowConfig toggles the optional branch-scoped pre/post steps (see
// executor.GitWorkflow) for a pipeline.
type GitWorkflowConfig struct {
	Enabled      bool
	BranchPrefix string
}
