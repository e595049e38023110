package examplepipelines

import (
	"context"
	"fmt"
	"sync/atomic"
)

// transientErr is a Coder error carrying a network-style code so the
// classifier treats it as retryable.
type transientErr struct{ attempt int }

func (e *transientErr) Error() string { return fmt.Sprintf("upstream timed out on attempt %d", e.attempt) }
func (e *transientErr) Code() string  { return "ETIMEDOUT" }

// Flaky fails its first N invocations with a retryable error, then
// succeeds, used to exercise the executor's retry/backoff path.
type Flaky struct {
	FailFirst int
	calls     atomic.Int64
}

// Execute implements domain.Worker.
func (f *Flaky) Execute(ctx context.Context, data map[string]any) (map[string]any, error) {
	n := f.calls.Add(1)
	if n <= int64(f.FailFirst) {
		return nil, &transientErr{attempt: int(n)}
	}
	return map[string]any{"ok": true, "attempts": n}, nil
}
