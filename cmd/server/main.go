// Command server starts the AlephAuto job-queue core: the HTTP API
// surface, the worker registry's statically registered pipelines, and the
// Postgres-backed job repository.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alephauto/core/internal/broker"
	"github.com/alephauto/core/internal/config"
	"github.com/alephauto/core/internal/domain"
	"github.com/alephauto/core/internal/examplepipelines"
	"github.com/alephauto/core/internal/executor"
	"github.com/alephauto/core/internal/httpserver"
	"github.com/alephauto/core/internal/manifest"
	"github.com/alephauto/core/internal/observability"
	"github.com/alephauto/core/internal/registry"
	"github.com/alephauto/core/internal/repo"
	"github.com/alephauto/core/internal/repo/postgres"
	"github.com/alephauto/core/internal/secretprovider"
)

// pipelineDefault is the hardcoded fallback policy applied to a pipeline
// with no matching entry in the manifest.
type pipelineDefault struct {
	name    string
	worker  func() domain.Worker
	maxConc int
	maxRet  int
}

var defaults = []pipelineDefault{
	{name: "echo", worker: func() domain.Worker { return examplepipelines.Echo{} }, maxConc: 5, maxRet: 3},
	{name: "flaky", worker: func() domain.Worker { return &examplepipelines.Flaky{FailFirst: 2} }, maxConc: 2, maxRet: 4},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(cfg.DBURL); err != nil {
		slog.Error("db migration failed", slog.Any("error", err))
		os.Exit(1)
	}

	jobsStore := postgres.NewJobsRepo(pool)
	jobRepo := repo.NewRepository(jobsStore)

	eventsBroker := broker.New(broker.DefaultBufferSize)

	secretsProvider := secretprovider.New(secretprovider.EnvSource{}, secretprovider.Config{
		FailureThreshold: cfg.CBFailureThreshold,
		SuccessThreshold: cfg.CBSuccessThreshold,
		Cooldown:         cfg.CBCooldown,
	})

	man, err := manifest.Load(cfg.PipelineManifestPath)
	if err != nil {
		slog.Error("pipeline manifest load failed", slog.Any("error", err))
		os.Exit(1)
	}

	descriptors := make([]registry.Descriptor, 0, len(defaults))
	for _, d := range defaults {
		d := d
		maxConc, maxRet := d.maxConc, d.maxRet
		var gitCfg *domain.GitWorkflowConfig
		name := d.name
		if spec, ok := man.Lookup(d.name); ok {
			maxConc = spec.MaxConcurrent
			maxRet = spec.MaxRetries
			if spec.Name != "" {
				name = spec.Name
			}
			if spec.GitWorkflow != nil {
				gitCfg = &domain.GitWorkflowConfig{
					Enabled:      spec.GitWorkflow.Enabled,
					BranchPrefix: spec.GitWorkflow.BranchPrefix,
				}
			}
		}

		descriptors = append(descriptors, registry.Descriptor{
			PipelineID: d.name,
			Name:       name,
			Factory: func(ctx context.Context) (registry.Executor, error) {
				return executor.New(executor.Config{
					PipelineID:    d.name,
					MaxConcurrent: maxConc,
					MaxRetries:    maxRet,
					JobTimeout:    cfg.JobTimeout,
					ShutdownGrace: cfg.ServerShutdownTimeout,
					GitWorkflow:   gitCfg,
					BackoffBase:   cfg.CBBaseDelay,
					BackoffMult:   cfg.CBBackoffMult,
					BackoffMax:    cfg.CBMaxBackoff,
				}, d.worker(), jobRepo, eventsBroker), nil
			},
		})
	}

	reg := registry.New(descriptors)

	srv := httpserver.NewServer(reg, jobRepo, secretsProvider, eventsBroker, cfg.PaginationMaxLimit)

	handler := httpserver.BuildRouter(httpserver.RouterConfig{
		CORSAllowOrigins: cfg.CORSAllowOrigins,
		RateLimitPerMin:  cfg.RateLimitPerMin,
		RequestTimeout:   cfg.HTTPWriteTimeout,
	}, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.APIPort),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.APIPort))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()

	if err := reg.ShutdownAll(shutdownCtx); err != nil {
		slog.Error("registry shutdown error", slog.Any("error", err))
	}
	jobRepo.Close(shutdownCtx)
	_ = srvHTTP.Shutdown(shutdownCtx)
}
