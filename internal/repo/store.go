// Package repo implements the Job Repository: a durable store for Job
// records that tolerates transient storage failures via a bounded
// write-queue and automatic background recovery, matching the degraded-mode
// algorithm the retry manager in the teacher repo uses for its dead-letter
// cooldown and re-enqueue bookkeeping.
package repo

import (
	"context"

	"github.com/alephauto/core/internal/domain"
)

// Store is the backing persistence capability the degraded-mode Repository
// wraps. A Postgres implementation lives in internal/repo/postgres; tests
// use an in-memory fake that can be told to fail N consecutive writes.
type Store interface {
	Save(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, int, error)
	Count(ctx context.Context, filter domain.JobFilter) (int64, error)
}
