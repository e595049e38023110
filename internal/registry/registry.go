// Package registry implements the Worker Registry: a lazy, race-free
// resolver mapping a pipeline identifier to a singleton Executor instance.
// The resolution algorithm mirrors the mutex-guarded registry map in
// other_examples' queue Manager, generalized to use a pending-futures map
// so concurrent resolutions for the same new pipeline observe exactly one
// factory invocation (the race-free lazy initialization algorithm), and
// the lazy-refresh-with-staleness shape the teacher's freemodels.Service
// uses for "don't refetch while already in flight".
package registry

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alephauto/core/internal/domain"
)

// Executor is the minimal surface the Registry needs from whatever type
// owns a pipeline's queue and dispatch loop; internal/executor.Executor
// satisfies it.
type Executor interface {
	domain.ShutdownableWorker
}

// pendingFuture is the shared placeholder installed while a factory runs
// off-lock. It is only ever written to once, by the goroutine that created
// it, and is safe to read from multiple goroutines after wait() returns.
type pendingFuture struct {
	done   chan struct{}
	result Executor
	err    error
}

func (f *pendingFuture) wait() (Executor, error) {
	<-f.done
	return f.result, f.err
}

// Descriptor pairs a pipeline's static registration with its factory.
type Descriptor struct {
	PipelineID string
	Factory    func(ctx context.Context) (Executor, error)
	Name       string
}

// Registry resolves pipeline_id -> singleton Executor lazily and
// race-free, per the atomic check-and-set algorithm: concurrent Get calls
// for the same new pipeline result in exactly one factory invocation; any
// duplicate produced by a race is disposed of via its optional Shutdown.
type Registry struct {
	mu          sync.Mutex
	descriptors map[string]Descriptor
	cache       map[string]Executor
	pending     map[string]*pendingFuture
}

// New constructs a Registry with the given statically registered
// descriptors. No runtime mutation of the descriptor set is supported.
func New(descriptors []Descriptor) *Registry {
	byID := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		byID[d.PipelineID] = d
	}
	return &Registry{
		descriptors: byID,
		cache:       make(map[string]Executor),
		pending:     make(map[string]*pendingFuture),
	}
}

// UnknownPipelineError lists the known pipeline ids alongside the
// requested, unregistered one.
type UnknownPipelineError struct {
	PipelineID string
	Known      []string
}

func (e *UnknownPipelineError) Error() string {
	return fmt.Sprintf("unknown pipeline %q (known: %v)", e.PipelineID, e.Known)
}

func (e *UnknownPipelineError) Unwrap() error { return domain.ErrUnknownPipeline }

// IsRegistered reports whether pipelineID has a static descriptor.
func (r *Registry) IsRegistered(pipelineID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.descriptors[pipelineID]
	return ok
}

// Get resolves pipelineID to its singleton Executor, constructing it lazily
// on first use. See the package doc for the race-free algorithm.
func (r *Registry) Get(ctx context.Context, pipelineID string) (Executor, error) {
	r.mu.Lock()
	if existing, ok := r.cache[pipelineID]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	if fut, ok := r.pending[pipelineID]; ok {
		r.mu.Unlock()
		return fut.wait()
	}

	desc, ok := r.descriptors[pipelineID]
	if !ok {
		known := make([]string, 0, len(r.descriptors))
		for id := range r.descriptors {
			known = append(known, id)
		}
		r.mu.Unlock()
		return nil, &UnknownPipelineError{PipelineID: pipelineID, Known: known}
	}

	fut := &pendingFuture{done: make(chan struct{})}
	r.pending[pipelineID] = fut
	r.mu.Unlock()

	instance, err := desc.Factory(ctx)

	r.mu.Lock()
	if err != nil {
		delete(r.pending, pipelineID)
		r.mu.Unlock()
		fut.err = fmt.Errorf("op=registry.Get pipeline_id=%s: %w", pipelineID, fmt.Errorf("%v: %w", err, domain.ErrInitFailed))
		close(fut.done)
		return nil, fut.err
	}

	// Atomic check-and-set: another concurrent resolution may have already
	// populated cache while this factory ran off-lock.
	if existing, ok := r.cache[pipelineID]; ok {
		delete(r.pending, pipelineID)
		r.mu.Unlock()
		disposeDuplicate(ctx, instance)
		fut.result = existing
		close(fut.done)
		return existing, nil
	}

	r.cache[pipelineID] = instance
	delete(r.pending, pipelineID)
	r.mu.Unlock()

	fut.result = instance
	close(fut.done)
	return instance, nil
}

// disposeDuplicate invokes the duplicate instance's optional Shutdown
// (best-effort) so a losing race never leaks resources.
func disposeDuplicate(ctx context.Context, instance Executor) {
	if instance == nil {
		return
	}
	_ = instance.Shutdown(ctx)
}

// ShutdownAll shuts down every cached executor concurrently, bounded by
// errgroup.SetLimit, and clears the cache. The Executor interface here
// requires Shutdown; a worker without its own Shutdown is tolerated by
// executor.Executor.Shutdown, which only calls it when the worker
// implements domain.ShutdownableWorker.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.Lock()
	snapshot := make([]Executor, 0, len(r.cache))
	for _, e := range r.cache {
		snapshot = append(snapshot, e)
	}
	r.cache = make(map[string]Executor)
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, e := range snapshot {
		e := e
		g.Go(func() error {
			return e.Shutdown(gctx)
		})
	}
	return g.Wait()
}

// CachedExecutors returns a snapshot of every pipeline_id that currently
// has a resolved singleton Executor, without triggering lazy
// initialization of any pipeline that hasn't been requested yet.
func (r *Registry) CachedExecutors() map[string]Executor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Executor, len(r.cache))
	for id, e := range r.cache {
		out[id] = e
	}
	return out
}

// Pipelines lists every statically registered pipeline_id, used by
// GET /api/pipelines.
func (r *Registry) Pipelines() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	return out
}
