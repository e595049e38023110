// Package examplepipelines ships two minimal Worker implementations used to
// exercise the Executor, Registry, and API Surface end to end: echo, which
// always succeeds, and flaky, which fails a configurable number of times
// before succeeding, matching the end-to-end scenarios this codebase's
// spec seeds as a test suite.
package examplepipelines

import "context"

// Echo returns its input data wrapped under an "echoed" key.
type Echo struct{}

// Execute implements domain.Worker.
func (Echo) Execute(ctx context.Context, data map[string]any) (map[string]any, error) {
	return map[string]any{"echoed": data}, nil
}
