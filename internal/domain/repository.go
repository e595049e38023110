package domain

import "context"

// JobRepository is the durable store contract for Job records. Implementations
// must tolerate transient storage failures per the degraded-mode algorithm
// (see internal/repo) without surfacing storage errors from Save. When the
// in-memory write queue is full, internal/repo drops the oldest pending
// write to make room.
//
//go:generate mockery --name=JobRepository --with-expecter --output=../../internal/mocks --outpkg=mocks
type JobRepository interface {
	Save(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	List(ctx context.Context, filter JobFilter) ([]*Job, int, error)
	Count(ctx context.Context, filter JobFilter) (int64, error)
	GetHealth(ctx context.Context) RepositoryHealth
}

// RepositoryHealth is the JobRepository's get_health view.
type RepositoryHealth struct {
	Status              string `json:"status"` // "healthy" | "degraded"
	QueuedWrites        int    `json:"queued_writes"`
	RecoveryAttempts    int    `json:"recovery_attempts"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}
