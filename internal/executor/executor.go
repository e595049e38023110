// Package executor implements the Job Executor: one instance owns the
// bounded work queue, concurrency ceiling, retry/backoff policy, and
// lifecycle events for a single pipeline. The dispatch loop shape
// (mutex-guarded FIFO slice feeding per-job dispatch goroutines,
// sync.WaitGroup shutdown, backoff re-enqueue goroutines) is grounded on
// the job-executor pattern from
// other_examples' runtime jobs executor, combined with this codebase's
// retry-manager bookkeeping for terminal-failure classification and the
// asynq worker's mark-running -> execute -> finalize shape.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alephauto/core/internal/broker"
	"github.com/alephauto/core/internal/classify"
	"github.com/alephauto/core/internal/domain"
	"github.com/alephauto/core/internal/observability"
)

// Config configures one Executor instance.
type Config struct {
	PipelineID      string
	MaxConcurrent   int
	MaxRetries      int
	JobTimeout      time.Duration
	ShutdownGrace   time.Duration
	GitWorkflow     *domain.GitWorkflowConfig
	BackoffBase     time.Duration
	BackoffMult     float64
	BackoffMax      time.Duration
}

// Stats is the aggregated view returned by Executor.Stats.
type Stats struct {
	Active         int   `json:"active"`
	Queued         int   `json:"queued"`
	CompletedTotal int64 `json:"completed_total"`
	FailedTotal    int64 `json:"failed_total"`
}

// Executor owns the lifecycle of jobs for one pipeline.
type Executor struct {
	cfg    Config
	worker domain.Worker
	repo   domain.JobRepository
	events *broker.Broker
	git    *GitWorkflow

	mu           sync.Mutex
	queue        []string
	jobs         map[string]*domain.Job
	cancelFuncs  map[string]context.CancelFunc
	activeCount  int
	shuttingDown bool
	completedTot int64
	failedTot    int64

	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs an Executor and starts its dispatch loop.
func New(cfg Config, worker domain.Worker, repo domain.JobRepository, events *broker.Broker) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	e := &Executor{
		cfg:         cfg,
		worker:      worker,
		repo:        repo,
		events:      events,
		jobs:        make(map[string]*domain.Job),
		cancelFuncs: make(map[string]context.CancelFunc),
		wakeCh:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
	if cfg.GitWorkflow != nil && cfg.GitWorkflow.Enabled {
		e.git = NewGitWorkflow(cfg.GitWorkflow.BranchPrefix)
	}
	e.wg.Add(1)
	go e.dispatchLoop()
	return e
}

func (e *Executor) wake() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

// CreateJob validates and persists a new job in the queued state, emits
// job:created, and triggers dispatch.
func (e *Executor) CreateJob(ctx context.Context, data map[string]any) (*domain.Job, error) {
	job := &domain.Job{
		JobID:      uuid.New().String(),
		PipelineID: e.cfg.PipelineID,
		Status:     domain.JobQueued,
		Data:       data,
		MaxRetries: e.cfg.MaxRetries,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.repo.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("op=executor.CreateJob pipeline_id=%s: %w", e.cfg.PipelineID, err)
	}

	e.mu.Lock()
	e.jobs[job.JobID] = job
	e.queue = append(e.queue, job.JobID)
	e.mu.Unlock()

	observability.JobsCreatedTotal.WithLabelValues(e.cfg.PipelineID).Inc()
	e.publish(domain.EventJobCreated, job, nil)
	e.wake()
	return job.Clone(), nil
}

// Cancel cancels a job. Queued jobs transition straight to failed.
// Running jobs receive a cooperative cancellation signal and the call
// reports bestEffort=true since the worker may not honor it promptly.
func (e *Executor) Cancel(ctx context.Context, jobID string) (bestEffort bool, err error) {
	e.mu.Lock()
	job, ok := e.jobs[jobID]
	if !ok {
		e.mu.Unlock()
		return false, fmt.Errorf("op=executor.Cancel job_id=%s: %w", jobID, domain.ErrNotFound)
	}
	if job.Status.IsTerminal() {
		e.mu.Unlock()
		return false, fmt.Errorf("op=executor.Cancel job_id=%s: %w", jobID, domain.ErrAlreadyTerminal)
	}

	if job.Status == domain.JobQueued {
		e.removeFromQueueLocked(jobID)
		now := time.Now().UTC()
		job.Status = domain.JobFailed
		job.Error = &domain.JobError{Message: "cancelled before dispatch", Cancelled: true}
		job.CompletedAt = &now
		e.mu.Unlock()

		if err := e.repo.Save(ctx, job); err != nil {
			slog.Error("executor: persist cancelled job failed", slog.String("job_id", jobID), slog.Any("error", err))
		}
		e.publish(domain.EventJobFailed, job, nil)
		return false, nil
	}

	cancel, hasCancel := e.cancelFuncs[jobID]
	e.mu.Unlock()
	if hasCancel {
		cancel()
	}
	return true, nil
}

// Retry re-queues a failed job's data as a fresh job with reset attempts.
func (e *Executor) Retry(ctx context.Context, jobID string) (*domain.Job, error) {
	e.mu.Lock()
	job, ok := e.jobs[jobID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("op=executor.Retry job_id=%s: %w", jobID, domain.ErrNotFound)
	}
	if job.Status != domain.JobFailed {
		e.mu.Unlock()
		return nil, fmt.Errorf("op=executor.Retry job_id=%s: %w", jobID, domain.ErrAlreadyTerminal)
	}
	data := job.Clone().Data
	e.mu.Unlock()

	return e.CreateJob(ctx, data)
}

// Stats returns the aggregated executor view for GET /api/status.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Active:         e.activeCount,
		Queued:         len(e.queue),
		CompletedTotal: e.completedTot,
		FailedTotal:    e.failedTot,
	}
}

func (e *Executor) removeFromQueueLocked(jobID string) {
	for i, id := range e.queue {
		if id == jobID {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return
		}
	}
}

// dispatchLoop watches (queue, active_count) and spawns dispatch tasks up
// to max_concurrent, exactly as the spec's dispatch loop algorithm
// requires: spawning is guarded by the mutex, spawned tasks run without
// holding it.
func (e *Executor) dispatchLoop() {
	defer e.wg.Done()
	for {
		e.spawnReady()
		select {
		case <-e.stopCh:
			return
		case <-e.wakeCh:
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (e *Executor) spawnReady() {
	for {
		e.mu.Lock()
		if e.shuttingDown || len(e.queue) == 0 || e.activeCount >= e.cfg.MaxConcurrent {
			e.mu.Unlock()
			return
		}
		jobID := e.queue[0]
		e.queue = e.queue[1:]
		e.activeCount++
		e.mu.Unlock()

		e.wg.Add(1)
		go e.runDispatch(jobID)
	}
}

// runDispatch executes one job end to end: mark running, optional git
// workflow pre-step, execute, classify, finalize or re-enqueue.
func (e *Executor) runDispatch(jobID string) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		e.activeCount--
		e.mu.Unlock()
		e.wake()
	}()

	e.mu.Lock()
	job, ok := e.jobs[jobID]
	if !ok {
		e.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	job.Status = domain.JobRunning
	job.StartedAt = &now
	job.Attempts++
	e.mu.Unlock()

	if err := e.repo.Save(context.Background(), job); err != nil {
		slog.Error("executor: persist running state failed", slog.String("job_id", jobID), slog.Any("error", err))
	}
	e.publish(domain.EventJobStarted, job, nil)

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.JobTimeout)
	e.mu.Lock()
	e.cancelFuncs[jobID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancelFuncs, jobID)
		e.mu.Unlock()
		cancel()
	}()

	var result map[string]any
	var execErr error

	if e.git != nil {
		execErr = e.git.Run(ctx, job, func(runCtx context.Context) error {
			var innerErr error
			result, innerErr = e.worker.Execute(runCtx, job.Data)
			return innerErr
		}, e.worker)
	} else {
		result, execErr = e.worker.Execute(ctx, job.Data)
	}

	if execErr == nil {
		e.finalizeSuccess(job, result)
		return
	}

	if errors.Is(ctx.Err(), context.Canceled) && errors.Is(execErr, context.Canceled) {
		// Cooperative cancellation via Cancel(), not a timeout: terminate
		// as failed/cancelled, never retryable, regardless of attempts left.
		e.finalizeCancelled(job)
		return
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) && errors.Is(execErr, context.DeadlineExceeded) {
		execErr = &timeoutError{cause: execErr}
	}

	verdict := classify.Classify(execErr)
	e.mu.Lock()
	retryable := verdict.Retryable && job.Attempts < job.MaxRetries+1
	e.mu.Unlock()

	if retryable {
		e.scheduleRetry(job, verdict, execErr)
		return
	}
	e.finalizeFailure(job, verdict, execErr)
}

// timeoutError marks a per-job execution timeout, classified as retryable
// under the "timeout" reason.
type timeoutError struct{ cause error }

func (e *timeoutError) Error() string  { return fmt.Sprintf("job execution timed out: %v", e.cause) }
func (e *timeoutError) IsTimeout() bool { return true }

func (e *Executor) finalizeSuccess(job *domain.Job, result map[string]any) {
	now := time.Now().UTC()
	e.mu.Lock()
	job.Status = domain.JobCompleted
	job.Result = result
	job.CompletedAt = &now
	e.completedTot++
	e.mu.Unlock()

	if err := e.repo.Save(context.Background(), job); err != nil {
		slog.Error("executor: persist completed job failed", slog.String("job_id", job.JobID), slog.Any("error", err))
	}
	observability.JobsCompletedTotal.WithLabelValues(e.cfg.PipelineID, string(domain.JobCompleted)).Inc()
	if job.StartedAt != nil {
		observability.JobExecutionDuration.WithLabelValues(e.cfg.PipelineID).Observe(now.Sub(*job.StartedAt).Seconds())
	}
	e.publish(domain.EventJobCompleted, job, nil)
}

func (e *Executor) finalizeFailure(job *domain.Job, verdict classify.Verdict, execErr error) {
	now := time.Now().UTC()
	e.mu.Lock()
	job.Status = domain.JobFailed
	job.Error = &domain.JobError{Message: execErr.Error(), Code: verdict.Reason}
	job.CompletedAt = &now
	e.failedTot++
	e.mu.Unlock()

	if err := e.repo.Save(context.Background(), job); err != nil {
		slog.Error("executor: persist failed job failed", slog.String("job_id", job.JobID), slog.Any("error", err))
	}
	observability.JobsCompletedTotal.WithLabelValues(e.cfg.PipelineID, string(domain.JobFailed)).Inc()
	e.publish(domain.EventJobFailed, job, nil)
}

// finalizeCancelled terminates a running job that received a cooperative
// cancellation signal via Cancel(): always failed with error.cancelled=true,
// never retried regardless of attempts remaining.
func (e *Executor) finalizeCancelled(job *domain.Job) {
	now := time.Now().UTC()
	e.mu.Lock()
	job.Status = domain.JobFailed
	job.Error = &domain.JobError{Message: "cancelled while running", Cancelled: true}
	job.CompletedAt = &now
	e.failedTot++
	e.mu.Unlock()

	if err := e.repo.Save(context.Background(), job); err != nil {
		slog.Error("executor: persist cancelled job failed", slog.String("job_id", job.JobID), slog.Any("error", err))
	}
	observability.JobsCompletedTotal.WithLabelValues(e.cfg.PipelineID, string(domain.JobFailed)).Inc()
	e.publish(domain.EventJobFailed, job, nil)
}

// scheduleRetry re-enqueues job after the backoff delay computed by
// retryDelay, using tail-insertion to preserve fairness with concurrently
// created jobs.
func (e *Executor) scheduleRetry(job *domain.Job, verdict classify.Verdict, execErr error) {
	e.mu.Lock()
	attempts := job.Attempts
	job.Status = domain.JobQueued
	e.mu.Unlock()

	delay := retryDelay(attempts, e.cfg.BackoffBase, e.cfg.BackoffMult, e.cfg.BackoffMax)

	e.publish(domain.EventJobProgress, job, map[string]any{
		"retry":       true,
		"attempts":    attempts,
		"reason":      verdict.Reason,
		"retry_delay": delay.String(),
	})

	if err := e.repo.Save(context.Background(), job); err != nil {
		slog.Error("executor: persist retry state failed", slog.String("job_id", job.JobID), slog.Any("error", err))
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-e.stopCh:
			return
		}
		e.mu.Lock()
		if job.Status != domain.JobQueued {
			// Cancelled while waiting for the retry delay: terminal, so it
			// is not dispatched again.
			e.mu.Unlock()
			return
		}
		e.queue = append(e.queue, job.JobID)
		e.mu.Unlock()
		e.wake()
	}()
	_ = execErr
}

// retryDelay implements delay = min(base * mult^(attempts-1), max).
func retryDelay(attempts int, base time.Duration, mult float64, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := float64(base) * math.Pow(mult, float64(attempts-1))
	if d > float64(max) {
		return max
	}
	return time.Duration(d)
}

func (e *Executor) publish(t domain.EventType, job *domain.Job, payload map[string]any) {
	if e.events == nil {
		return
	}
	e.events.Publish(domain.Event{
		Type:       t,
		PipelineID: job.PipelineID,
		JobID:      job.JobID,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	})
}

// Shutdown stops accepting new dispatch and waits up to the configured
// grace period for active_count to reach zero before returning, then
// shuts down the underlying worker if it supports it. An emergency path
// (ctx expiring first) still releases the dispatch loop and background
// goroutines.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.shuttingDown = true
	e.mu.Unlock()

	grace, cancel := context.WithTimeout(ctx, e.cfg.ShutdownGrace)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		e.mu.Lock()
		active := e.activeCount
		e.mu.Unlock()
		if active == 0 {
			break
		}
		select {
		case <-grace.Done():
			slog.Warn("executor: shutdown grace period elapsed with jobs still active",
				slog.String("pipeline_id", e.cfg.PipelineID), slog.Int("active", active))
			goto emergency
		case <-ticker.C:
		}
	}

emergency:
	close(e.stopCh)
	done := make(chan struct{})
	go func() { e.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}

	if shutdownable, ok := e.worker.(domain.ShutdownableWorker); ok {
		if err := shutdownable.Shutdown(ctx); err != nil {
			return fmt.Errorf("op=executor.Shutdown pipeline_id=%s: %w", e.cfg.PipelineID, err)
		}
	}
	return nil
}
