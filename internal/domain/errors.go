// Package domain holds the core types shared by every AlephAuto component:
// jobs, events, worker contracts, and the sentinel errors that cross package
// boundaries.
package domain

import (
	"context"
	"errors"
)

// Sentinel errors returned by core components. Callers should compare with
// errors.Is rather than string matching.
var (
	ErrInvalidJobID      = errors.New("invalid job id")
	ErrUnknownPipeline   = errors.New("unknown pipeline")
	ErrAlreadyTerminal   = errors.New("job already in a terminal state")
	ErrNotFound          = errors.New("not found")
	ErrInitFailed        = errors.New("worker factory failed")
	ErrSecretUnavailable = errors.New("secret unavailable")
	ErrPersist           = errors.New("persistence failure")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// Context is an alias kept for readability at call sites that pass it
// through several layers without naming context.Context directly.
type Context = context.Context
