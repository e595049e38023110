package repo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alephauto/core/internal/domain"
	"github.com/alephauto/core/internal/observability"
)

const (
	degradedModeThreshold  = 5
	criticalRecoveryEvery  = 10
	writeQueueCapacity     = 10000
	recoveryInitialBackoff = 5 * time.Second
	recoveryMultiplier     = 2.0
	recoveryMaxBackoff     = 5 * time.Minute
)

// Repository implements domain.JobRepository over a backing Store, adding a
// degraded-mode write queue and automatic recovery task so transient
// storage failures never block job progression (see the Persistence
// failure (transient) row of the error handling taxonomy).
type Repository struct {
	store Store

	mu                  sync.Mutex
	degraded            bool
	consecutiveFailures int
	writeQueue          []*domain.Job
	recoveryAttempts    int
	recoveryRunning     bool

	// cache holds every job this process has ever Saved, serving as the
	// in-memory overlay so reads observe writes in program order even when
	// the canonical store has not yet caught up.
	cache map[string]*domain.Job

	wg     sync.WaitGroup
	stopCh chan struct{}
	once   sync.Once
}

// NewRepository wraps store with degraded-mode handling.
func NewRepository(store Store) *Repository {
	return &Repository{
		store:  store,
		cache:  make(map[string]*domain.Job),
		stopCh: make(chan struct{}),
	}
}

// Save upserts job by job_id. On persistence failure it increments the
// consecutive-failure counter; once the threshold is crossed it enters
// degraded mode, queues the write, and returns ok.
func (r *Repository) Save(ctx context.Context, job *domain.Job) error {
	if !domain.JobIDPattern.MatchString(job.JobID) {
		return fmt.Errorf("op=repo.Save job_id=%q: %w", job.JobID, domain.ErrInvalidJobID)
	}

	cached := job.Clone()

	r.mu.Lock()
	alreadyDegraded := r.degraded
	r.mu.Unlock()

	if alreadyDegraded {
		r.enqueueWrite(cached)
		return nil
	}

	err := r.store.Save(ctx, job)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[cached.JobID] = cached

	if err == nil {
		r.consecutiveFailures = 0
		return nil
	}

	r.consecutiveFailures++
	slog.Warn("repo: save failed", slog.String("job_id", job.JobID), slog.Int("consecutive_failures", r.consecutiveFailures), slog.Any("error", err))
	if r.consecutiveFailures >= degradedModeThreshold {
		r.enterDegradedLocked(cached)
	}
	return nil
}

func (r *Repository) enqueueWrite(job *domain.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[job.JobID] = job
	if len(r.writeQueue) >= writeQueueCapacity {
		slog.Error("repo: write queue full, dropping oldest pending write")
		r.writeQueue = r.writeQueue[1:]
	}
	r.writeQueue = append(r.writeQueue, job)
}

// enterDegradedLocked must be called with r.mu held.
func (r *Repository) enterDegradedLocked(firstQueued *domain.Job) {
	r.degraded = true
	r.writeQueue = append(r.writeQueue, firstQueued)
	observability.RepositoryDegraded.Set(1)
	slog.Error("repo: entering degraded mode", slog.Int("consecutive_failures", r.consecutiveFailures))
	if !r.recoveryRunning {
		r.recoveryRunning = true
		r.wg.Add(1)
		go r.recoveryLoop()
	}
}

// recoveryLoop drains the write queue with exponential backoff until it
// succeeds or the repository is closed. It never gives up: after 10
// consecutive recovery failures it logs a critical signal and keeps trying.
func (r *Repository) recoveryLoop() {
	defer r.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = recoveryInitialBackoff
	bo.Multiplier = recoveryMultiplier
	bo.MaxInterval = recoveryMaxBackoff
	bo.MaxElapsedTime = 0 // never stop automatically; degraded mode persists until drained

	for {
		wait := bo.NextBackOff()
		select {
		case <-r.stopCh:
			return
		case <-time.After(wait):
		}

		if r.drainOnce() {
			return
		}
	}
}

// drainOnce attempts to flush the pending write queue in FIFO order,
// stopping at the first failure. Returns true if the repository exited
// degraded mode.
func (r *Repository) drainOnce() bool {
	r.mu.Lock()
	if !r.degraded {
		r.recoveryRunning = false
		r.mu.Unlock()
		return true
	}
	pending := make([]*domain.Job, len(r.writeQueue))
	copy(pending, r.writeQueue)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	drained := 0
	for _, job := range pending {
		if err := r.store.Save(ctx, job); err != nil {
			break
		}
		drained++
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.writeQueue = r.writeQueue[drained:]
	if len(r.writeQueue) == 0 {
		r.degraded = false
		r.consecutiveFailures = 0
		r.recoveryAttempts = 0
		r.recoveryRunning = false
		observability.RepositoryDegraded.Set(0)
		slog.Info("repo: recovered from degraded mode")
		return true
	}

	r.recoveryAttempts++
	if r.recoveryAttempts%criticalRecoveryEvery == 0 {
		slog.Error("repo: recovery still failing", slog.Int("recovery_attempts", r.recoveryAttempts), slog.Int("queued_writes", len(r.writeQueue)))
	}
	return false
}

// Get returns the overlay copy if present (the in-process authoritative
// view), falling back to the canonical store.
func (r *Repository) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	if !domain.JobIDPattern.MatchString(jobID) {
		return nil, fmt.Errorf("op=repo.Get job_id=%q: %w", jobID, domain.ErrInvalidJobID)
	}

	r.mu.Lock()
	if cached, ok := r.cache[jobID]; ok {
		r.mu.Unlock()
		return cached.Clone(), nil
	}
	r.mu.Unlock()

	job, err := r.store.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("op=repo.Get job_id=%q: %w", jobID, err)
	}
	return job, nil
}

// List merges the canonical store's results with the in-memory overlay so
// that pending or already-superseded writes are reflected, then
// re-paginates the merged, deduplicated set.
func (r *Repository) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, int, error) {
	storeJobs, _, err := r.store.List(ctx, domain.JobFilter{PipelineID: filter.PipelineID, Status: filter.Status, Limit: 1 << 30, Offset: 0})
	if err != nil {
		storeJobs = nil
	}

	merged := make(map[string]*domain.Job, len(storeJobs))
	for _, j := range storeJobs {
		merged[j.JobID] = j
	}

	r.mu.Lock()
	for id, j := range r.cache {
		if filter.PipelineID != "" && j.PipelineID != filter.PipelineID {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		merged[id] = j.Clone()
	}
	r.mu.Unlock()

	all := make([]*domain.Job, 0, len(merged))
	for _, j := range merged {
		all = append(all, j)
	}
	total := len(all)

	start := filter.Offset
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

// Count mirrors List's merge semantics but only needs the total.
func (r *Repository) Count(ctx context.Context, filter domain.JobFilter) (int64, error) {
	_, total, err := r.List(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int64(total), nil
}

// GetHealth reports the degraded-mode view.
func (r *Repository) GetHealth(ctx context.Context) domain.RepositoryHealth {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := "healthy"
	if r.degraded {
		status = "degraded"
	}
	return domain.RepositoryHealth{
		Status:              status,
		QueuedWrites:        len(r.writeQueue),
		RecoveryAttempts:    r.recoveryAttempts,
		ConsecutiveFailures: r.consecutiveFailures,
	}
}

// Close stops the recovery task and flushes the write queue best-effort,
// used by the emergency shutdown handler.
func (r *Repository) Close(ctx context.Context) {
	r.once.Do(func() { close(r.stopCh) })

	r.mu.Lock()
	degraded := r.degraded
	pending := append([]*domain.Job(nil), r.writeQueue...)
	r.mu.Unlock()

	if degraded && len(pending) > 0 {
		for _, job := range pending {
			_ = r.store.Save(ctx, job)
		}
	}

	done := make(chan struct{})
	go func() { r.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
