// Package httpserver implements the API Surface: request-validated
// command/query endpoints resolved through the Worker Registry, plus a
// streaming subscription endpoint fed by the Event Broker. Routing and
// middleware follow the chi-based surface this codebase already uses for
// its HTTP adapter, generalized from a single evaluation-upload API to the
// job-queue command/query/stream set this spec requires.
package httpserver

import (
	"context"
	"time"

	"github.com/alephauto/core/internal/broker"
	"github.com/alephauto/core/internal/domain"
	"github.com/alephauto/core/internal/executor"
	"github.com/alephauto/core/internal/registry"
	"github.com/alephauto/core/internal/secretprovider"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

// fullExecutor is the richer surface httpserver needs beyond the
// registry's minimal Executor interface. Every factory registered in
// cmd/server/main.go returns an *executor.Executor, which satisfies this.
type fullExecutor interface {
	domain.ShutdownableWorker
	CreateJob(ctx context.Context, data map[string]any) (*domain.Job, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
	Retry(ctx context.Context, jobID string) (*domain.Job, error)
	Stats() executor.Stats
}

// Server aggregates the core's component singletons and exposes their
// capabilities as HTTP handlers.
type Server struct {
	Registry       *registry.Registry
	Repo           domain.JobRepository
	Secrets        *secretprovider.Provider
	Events         *broker.Broker
	PaginationMax  int
	startedAt      time.Time
}

// NewServer constructs a Server. Every dependency is a singleton owned by
// cmd/server/main.go's wiring sequence.
func NewServer(reg *registry.Registry, repo domain.JobRepository, secrets *secretprovider.Provider, events *broker.Broker, paginationMax int) *Server {
	return &Server{
		Registry:      reg,
		Repo:          repo,
		Secrets:       secrets,
		Events:        events,
		PaginationMax: paginationMax,
		startedAt:     time.Now().UTC(),
	}
}
