package registry_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alephauto/core/internal/domain"
	"github.com/alephauto/core/internal/registry"
)

type fakeExecutor struct {
	id          int
	shutdownErr error
	shutdowns   *atomic.Int64
}

func (f *fakeExecutor) Shutdown(ctx context.Context) error {
	if f.shutdowns != nil {
		f.shutdowns.Add(1)
	}
	return f.shutdownErr
}

func TestRegistry_UnknownPipeline(t *testing.T) {
	r := registry.New(nil)
	_, err := r.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownPipeline))
}

func TestRegistry_LazySingleton(t *testing.T) {
	var calls atomic.Int64
	r := registry.New([]registry.Descriptor{
		{PipelineID: "echo", Factory: func(ctx context.Context) (registry.Executor, error) {
			calls.Add(1)
			return &fakeExecutor{id: int(calls.Load())}, nil
		}},
	})

	e1, err := r.Get(context.Background(), "echo")
	require.NoError(t, err)
	e2, err := r.Get(context.Background(), "echo")
	require.NoError(t, err)

	assert.Same(t, e1, e2)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRegistry_RaceFreeConcurrentGet(t *testing.T) {
	var calls atomic.Int64
	var shutdowns atomic.Int64
	r := registry.New([]registry.Descriptor{
		{PipelineID: "slow-init", Factory: func(ctx context.Context) (registry.Executor, error) {
			n := calls.Add(1)
			time.Sleep(50 * time.Millisecond)
			return &fakeExecutor{id: int(n), shutdowns: &shutdowns}, nil
		}},
	})

	const n = 50
	results := make([]registry.Executor, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			e, err := r.Get(context.Background(), "slow-init")
			require.NoError(t, err)
			results[i] = e
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load(), "exactly one factory invocation")
	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestRegistry_FactoryFailureAllowsRetry(t *testing.T) {
	var calls atomic.Int64
	r := registry.New([]registry.Descriptor{
		{PipelineID: "flaky-init", Factory: func(ctx context.Context) (registry.Executor, error) {
			n := calls.Add(1)
			if n == 1 {
				return nil, errors.New("boom")
			}
			return &fakeExecutor{id: int(n)}, nil
		}},
	})

	_, err := r.Get(context.Background(), "flaky-init")
	require.Error(t, err)

	e, err := r.Get(context.Background(), "flaky-init")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.EqualValues(t, 2, calls.Load())
}

func TestRegistry_CachedExecutorsExcludesUnresolved(t *testing.T) {
	r := registry.New([]registry.Descriptor{
		{PipelineID: "a", Factory: func(ctx context.Context) (registry.Executor, error) {
			return &fakeExecutor{}, nil
		}},
		{PipelineID: "b", Factory: func(ctx context.Context) (registry.Executor, error) {
			return &fakeExecutor{}, nil
		}},
	})

	assert.Empty(t, r.CachedExecutors())

	_, err := r.Get(context.Background(), "a")
	require.NoError(t, err)

	cached := r.CachedExecutors()
	assert.Len(t, cached, 1)
	_, ok := cached["a"]
	assert.True(t, ok)
	_, ok = cached["b"]
	assert.False(t, ok)
}

func TestRegistry_ShutdownAll(t *testing.T) {
	var shutdowns atomic.Int64
	r := registry.New([]registry.Descriptor{
		{PipelineID: "a", Factory: func(ctx context.Context) (registry.Executor, error) {
			return &fakeExecutor{shutdowns: &shutdowns}, nil
		}},
		{PipelineID: "b", Factory: func(ctx context.Context) (registry.Executor, error) {
			return &fakeExecutor{shutdowns: &shutdowns}, nil
		}},
	})
	_, err := r.Get(context.Background(), "a")
	require.NoError(t, err)
	_, err = r.Get(context.Background(), "b")
	require.NoError(t, err)

	require.NoError(t, r.ShutdownAll(context.Background()))
	assert.EqualValues(t, 2, shutdowns.Load())
}
