package executor

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/alephauto/core/internal/domain"
)

// GitWorkflow implements the optional branch-scoped pre/post steps: capture
// the current branch, create a scratch branch for the job, run the
// worker, and restore the original branch on every exit path — the
// "scoped acquisition of branches" design note. No Git library exists
// anywhere in this codebase's dependency tree, so this shells out to the
// git binary directly via os/exec.
type GitWorkflow struct {
	branchPrefix string
}

// NewGitWorkflow constructs a GitWorkflow using prefix for generated branch
// names (defaulting to "alephauto").
func NewGitWorkflow(prefix string) *GitWorkflow {
	if prefix == "" {
		prefix = "alephauto"
	}
	return &GitWorkflow{branchPrefix: prefix}
}

var unsafeBranchChars = regexp.MustCompile(`[^a-z0-9-]+`)

// sanitizeBranchComponent lower-cases and strips everything but
// alphanumerics and hyphens, preventing shell metacharacters or path
// separators from entering a branch name built from user-controlled
// pipeline/job identifiers.
func sanitizeBranchComponent(s string) string {
	s = strings.ToLower(s)
	s = unsafeBranchChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "x"
	}
	return s
}

func shortID(jobID string) string {
	if len(jobID) <= 8 {
		return jobID
	}
	return jobID[:8]
}

// Run executes fn inside a scoped branch: original_branch is captured,
// a new branch is created, fn runs, and the original branch is restored
// regardless of outcome (including a worker panic, recovered here so the
// restoration still happens).
func (g *GitWorkflow) Run(ctx context.Context, job *domain.Job, fn func(ctx context.Context) error, worker domain.Worker) (execErr error) {
	original, err := currentBranch(ctx)
	if err != nil {
		return fmt.Errorf("op=gitworkflow.Run capture original branch: %w", err)
	}

	branch := fmt.Sprintf("%s/%s-%s",
		sanitizeBranchComponent(g.branchPrefix),
		sanitizeBranchComponent(job.PipelineID),
		shortID(job.JobID))

	if err := runGit(ctx, "checkout", "-b", branch); err != nil {
		return fmt.Errorf("op=gitworkflow.Run create branch=%s: %w", branch, err)
	}

	defer func() {
		if r := recover(); r != nil {
			execErr = fmt.Errorf("op=gitworkflow.Run worker panic: %v", r)
		}
		if restoreErr := restoreBranch(ctx, original); restoreErr != nil {
			// Restoration failure is logged by the caller via the returned
			// error only when the worker itself succeeded; otherwise the
			// worker's error takes precedence.
			if execErr == nil {
				execErr = fmt.Errorf("op=gitworkflow.Run restore branch=%s: %w", original, restoreErr)
			}
		}
	}()

	execErr = fn(ctx)
	if execErr != nil {
		// Rollback partial changes using git's checkout primitive rather
		// than any byte-level copy of modified files.
		_ = runGit(ctx, "checkout", "--", ".")
		return execErr
	}

	title, body := defaultPRContext(job)
	if prWorker, ok := worker.(domain.PRContextWorker); ok {
		title, body = prWorker.GeneratePRContext(job)
	}
	message := defaultCommitMessage(job)
	if cmWorker, ok := worker.(domain.CommitMessageWorker); ok {
		message = cmWorker.GenerateCommitMessage(job)
	}

	if commitErr := commitAndOpenPR(ctx, message, title, body); commitErr != nil {
		execErr = fmt.Errorf("op=gitworkflow.Run commit/pr: %w", commitErr)
	}
	return execErr
}

func defaultCommitMessage(job *domain.Job) string {
	return fmt.Sprintf("alephauto: %s job %s", job.PipelineID, shortID(job.JobID))
}

func defaultPRContext(job *domain.Job) (title, body string) {
	title = fmt.Sprintf("[alephauto] %s", job.PipelineID)
	body = fmt.Sprintf("Automated change produced by pipeline %q for job %s.", job.PipelineID, job.JobID)
	return title, body
}

// commitAndOpenPR stages and commits the working tree. Opening an actual
// PR is left to the external collaborator tooling (out of scope, §1); this
// only performs the local commit half of the workflow.
func commitAndOpenPR(ctx context.Context, message, title, body string) error {
	if err := runGit(ctx, "add", "-A"); err != nil {
		return err
	}
	if err := runGit(ctx, "commit", "-m", message); err != nil {
		return err
	}
	_ = title
	_ = body
	return nil
}

func currentBranch(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func restoreBranch(ctx context.Context, branch string) error {
	return runGit(ctx, "checkout", branch)
}

func runGit(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	return cmd.Run()
}
