package repo_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alephauto/core/internal/domain"
	"github.com/alephauto/core/internal/repo"
)

// fakeStore is a hermetic Store that can be told to fail the next N saves,
// used to exercise degraded-mode without a real Postgres instance.
type fakeStore struct {
	mu        sync.Mutex
	failNext  int
	records   map[string]*domain.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*domain.Job)}
}

func (f *fakeStore) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
}

func (f *fakeStore) Save(ctx context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("simulated storage outage")
	}
	f.records[job.JobID] = job.Clone()
	return nil
}

func (f *fakeStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.records[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Clone(), nil
}

func (f *fakeStore) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Job
	for _, j := range f.records {
		out = append(out, j.Clone())
	}
	return out, len(out), nil
}

func (f *fakeStore) Count(ctx context.Context, filter domain.JobFilter) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.records)), nil
}

func TestRepository_HappyPathSaveGet(t *testing.T) {
	store := newFakeStore()
	r := repo.NewRepository(store)

	job := &domain.Job{JobID: "job-1", PipelineID: "echo", Status: domain.JobQueued, Data: map[string]any{"x": 1}}
	require.NoError(t, r.Save(context.Background(), job))

	got, err := r.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "echo", got.PipelineID)

	health := r.GetHealth(context.Background())
	assert.Equal(t, "healthy", health.Status)
}

func TestRepository_InvalidJobID(t *testing.T) {
	r := repo.NewRepository(newFakeStore())
	err := r.Save(context.Background(), &domain.Job{JobID: "has a space", PipelineID: "echo"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidJobID))
}

func TestRepository_DegradedModeThenRecovery(t *testing.T) {
	store := newFakeStore()
	r := repo.NewRepository(store)

	store.FailNext(6)
	for i := 0; i < 6; i++ {
		job := &domain.Job{JobID: "job-degraded", PipelineID: "echo", Status: domain.JobQueued}
		require.NoError(t, r.Save(context.Background(), job))
	}

	health := r.GetHealth(context.Background())
	assert.Equal(t, "degraded", health.Status)

	// get still works from the in-memory overlay while degraded.
	got, err := r.Get(context.Background(), "job-degraded")
	require.NoError(t, err)
	assert.Equal(t, "job-degraded", got.JobID)

	// storage recovers: background recovery loop will drain on its own
	// schedule (first attempt after ~5s in production config); this test
	// only asserts the degraded-mode availability property (scenario 5),
	// not the timing of automatic recovery.
	assert.GreaterOrEqual(t, health.QueuedWrites, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	r.Close(ctx)
}
