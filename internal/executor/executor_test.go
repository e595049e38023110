package executor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alephauto/core/internal/broker"
	"github.com/alephauto/core/internal/domain"
	"github.com/alephauto/core/internal/executor"
	"github.com/alephauto/core/internal/repo"
)

// memStore is a minimal hermetic repo.Store backed by a map, used so
// executor tests don't depend on the repo package's degraded-mode logic.
type memStore struct {
	mu      sync.Mutex
	records map[string]*domain.Job
}

func newMemStore() *memStore { return &memStore{records: make(map[string]*domain.Job)} }

func (m *memStore) Save(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[job.JobID] = job.Clone()
	return nil
}
func (m *memStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.records[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Clone(), nil
}
func (m *memStore) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, int, error) {
	return nil, 0, nil
}
func (m *memStore) Count(ctx context.Context, filter domain.JobFilter) (int64, error) { return 0, nil }

type echoWorker struct{}

func (echoWorker) Execute(ctx context.Context, data map[string]any) (map[string]any, error) {
	return map[string]any{"echoed": data}, nil
}

type codedErr struct{ code, msg string }

func (e *codedErr) Error() string { return e.msg }
func (e *codedErr) Code() string  { return e.code }

type flakyWorker struct {
	failures int32
	calls    atomic.Int64
}

func (f *flakyWorker) Execute(ctx context.Context, data map[string]any) (map[string]any, error) {
	n := f.calls.Add(1)
	if n <= int64(f.failures) {
		return nil, &codedErr{code: "ETIMEDOUT", msg: "timed out"}
	}
	return map[string]any{"ok": true}, nil
}

func newTestExecutor(pipelineID string, w domain.Worker, b *broker.Broker) *executor.Executor {
	return executor.New(executor.Config{
		PipelineID:    pipelineID,
		MaxConcurrent: 5,
		MaxRetries:    3,
		JobTimeout:    2 * time.Second,
		BackoffBase:   1 * time.Millisecond,
		BackoffMult:   2.0,
		BackoffMax:    10 * time.Millisecond,
	}, w, repo.NewRepository(newMemStore()), b)
}

func waitFor(t *testing.T, check func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestExecutor_HappyPath(t *testing.T) {
	b := broker.New(16)
	sub, ch := b.Subscribe(broker.Filter{})
	defer b.Unsubscribe(sub)

	e := newTestExecutor("echo", echoWorker{}, b)
	job, err := e.CreateJob(context.Background(), map[string]any{"x": float64(1)})
	require.NoError(t, err)

	var events []domain.EventType
	for i := 0; i < 3; i++ {
		select {
		case ev := <-ch:
			events = append(events, ev.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []domain.EventType{domain.EventJobCreated, domain.EventJobStarted, domain.EventJobCompleted}, events)

	waitFor(t, func() bool { return e.Stats().CompletedTotal == 1 }, time.Second)
	assert.NotEmpty(t, job.JobID)
}

func TestExecutor_RetryThenSucceed(t *testing.T) {
	b := broker.New(16)
	w := &flakyWorker{failures: 2}
	e := newTestExecutor("flaky", w, b)

	_, err := e.CreateJob(context.Background(), map[string]any{})
	require.NoError(t, err)

	waitFor(t, func() bool { return e.Stats().CompletedTotal == 1 }, 2*time.Second)
	assert.EqualValues(t, 3, w.calls.Load())
}

func TestExecutor_NonRetryableFailsImmediately(t *testing.T) {
	b := broker.New(16)
	w := errWorker{err: &codedErr{code: "ENOENT", msg: "missing"}}
	e := newTestExecutor("bad-path", w, b)

	_, err := e.CreateJob(context.Background(), map[string]any{})
	require.NoError(t, err)

	waitFor(t, func() bool { return e.Stats().FailedTotal == 1 }, time.Second)
}

type errWorker struct{ err error }

func (w errWorker) Execute(ctx context.Context, data map[string]any) (map[string]any, error) {
	return nil, w.err
}

func TestExecutor_ConcurrencyCeiling(t *testing.T) {
	b := broker.New(64)
	block := make(chan struct{})
	var inFlight atomic.Int32
	var maxInFlight atomic.Int32

	w := blockingWorker{block: block, inFlight: &inFlight, maxInFlight: &maxInFlight}
	e := executor.New(executor.Config{
		PipelineID:    "blocking",
		MaxConcurrent: 2,
		MaxRetries:    0,
		JobTimeout:    5 * time.Second,
		BackoffBase:   time.Millisecond,
		BackoffMult:   2,
		BackoffMax:    10 * time.Millisecond,
	}, w, repo.NewRepository(newMemStore()), b)

	for i := 0; i < 5; i++ {
		_, err := e.CreateJob(context.Background(), map[string]any{})
		require.NoError(t, err)
	}

	waitFor(t, func() bool { return e.Stats().Active == 2 }, time.Second)
	assert.LessOrEqual(t, int(maxInFlight.Load()), 2)
	close(block)
}

type blockingWorker struct {
	block       chan struct{}
	inFlight    *atomic.Int32
	maxInFlight *atomic.Int32
}

func (w blockingWorker) Execute(ctx context.Context, data map[string]any) (map[string]any, error) {
	n := w.inFlight.Add(1)
	defer w.inFlight.Add(-1)
	for {
		cur := w.maxInFlight.Load()
		if n <= cur || w.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	select {
	case <-w.block:
	case <-ctx.Done():
	}
	return map[string]any{}, nil
}

func TestExecutor_CancelQueuedJob(t *testing.T) {
	b := broker.New(16)
	block := make(chan struct{})
	var inFlight, maxInFlight atomic.Int32
	w := blockingWorker{block: block, inFlight: &inFlight, maxInFlight: &maxInFlight}
	e := executor.New(executor.Config{
		PipelineID: "cancel-test", MaxConcurrent: 1, MaxRetries: 0, JobTimeout: 5 * time.Second,
		BackoffBase: time.Millisecond, BackoffMult: 2, BackoffMax: 10 * time.Millisecond,
	}, w, repo.NewRepository(newMemStore()), b)
	defer close(block)

	_, err := e.CreateJob(context.Background(), map[string]any{})
	require.NoError(t, err)
	waitFor(t, func() bool { return e.Stats().Active == 1 }, time.Second)

	second, err := e.CreateJob(context.Background(), map[string]any{})
	require.NoError(t, err)

	bestEffort, err := e.Cancel(context.Background(), second.JobID)
	require.NoError(t, err)
	assert.False(t, bestEffort)
}

func TestExecutor_RetryOnlyValidForFailedJob(t *testing.T) {
	b := broker.New(16)
	e := newTestExecutor("echo2", echoWorker{}, b)
	job, err := e.CreateJob(context.Background(), map[string]any{})
	require.NoError(t, err)
	waitFor(t, func() bool { return e.Stats().CompletedTotal == 1 }, time.Second)

	_, err = e.Retry(context.Background(), job.JobID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAlreadyTerminal))
}

func TestExecutor_GracefulShutdown(t *testing.T) {
	b := broker.New(16)
	e := newTestExecutor("echo3", echoWorker{}, b)
	_, err := e.CreateJob(context.Background(), map[string]any{})
	require.NoError(t, err)
	waitFor(t, func() bool { return e.Stats().CompletedTotal == 1 }, time.Second)

	require.NoError(t, e.Shutdown(context.Background()))
}
