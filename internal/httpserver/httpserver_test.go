package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alephauto/core/internal/broker"
	"github.com/alephauto/core/internal/domain"
	"github.com/alephauto/core/internal/examplepipelines"
	"github.com/alephauto/core/internal/executor"
	"github.com/alephauto/core/internal/httpserver"
	"github.com/alephauto/core/internal/registry"
	"github.com/alephauto/core/internal/secretprovider"
)

// memRepo is a hermetic in-memory domain.JobRepository used to exercise the
// API surface without a Postgres instance.
type memRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newMemRepo() *memRepo { return &memRepo{jobs: make(map[string]*domain.Job)} }

func (r *memRepo) Save(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.JobID] = job.Clone()
	return nil
}

func (r *memRepo) Get(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Clone(), nil
}

func (r *memRepo) List(_ context.Context, filter domain.JobFilter) ([]*domain.Job, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Job
	for _, j := range r.jobs {
		if filter.PipelineID != "" && j.PipelineID != filter.PipelineID {
			continue
		}
		out = append(out, j.Clone())
	}
	return out, len(out), nil
}

func (r *memRepo) Count(ctx context.Context, filter domain.JobFilter) (int64, error) {
	_, n, err := r.List(ctx, filter)
	return int64(n), err
}

func (r *memRepo) GetHealth(context.Context) domain.RepositoryHealth {
	return domain.RepositoryHealth{Status: "healthy"}
}

func newTestServer(t *testing.T) (*httptest.Server, *executor.Executor) {
	t.Helper()
	repoFake := newMemRepo()
	events := broker.New(broker.DefaultBufferSize)

	exec := executor.New(executor.Config{
		PipelineID:    "echo",
		MaxConcurrent: 2,
		MaxRetries:    1,
		JobTimeout:    time.Second,
		ShutdownGrace: time.Second,
		BackoffBase:   time.Millisecond,
		BackoffMult:   2,
		BackoffMax:    10 * time.Millisecond,
	}, examplepipelines.Echo{}, repoFake, events)

	reg := registry.New([]registry.Descriptor{
		{
			PipelineID: "echo",
			Name:       "Echo",
			Factory:    func(context.Context) (registry.Executor, error) { return exec, nil },
		},
	})

	secrets := secretprovider.New(secretprovider.SourceFunc(func(context.Context) (map[string]string, error) {
		return map[string]string{"k": "v"}, nil
	}), secretprovider.Config{
		FailureThreshold: 3, SuccessThreshold: 2, Cooldown: time.Second,
	})

	srv := httpserver.NewServer(reg, repoFake, secrets, events, 1000)
	handler := httpserver.BuildRouter(httpserver.RouterConfig{
		CORSAllowOrigins: "*",
		RateLimitPerMin:  1000,
		RequestTimeout:   5 * time.Second,
	}, srv)

	return httptest.NewServer(handler), exec
}

func decodeEnvelope(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var v map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthEndpoint(t *testing.T) {
	ts, exec := newTestServer(t)
	defer ts.Close()
	defer exec.Shutdown(context.Background())

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeEnvelope(t, resp)
	require.Equal(t, true, body["success"])
}

func TestTriggerAndGetJob(t *testing.T) {
	ts, exec := newTestServer(t)
	defer ts.Close()
	defer exec.Shutdown(context.Background())

	resp, err := http.Post(ts.URL+"/api/pipelines/echo/trigger", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeEnvelope(t, resp)
	data := body["data"].(map[string]any)
	jobID := data["job_id"].(string)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/jobs/" + jobID)
		require.NoError(t, err)
		defer resp.Body.Close()
		var v map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&v)
		d, ok := v["data"].(map[string]any)
		return ok && d["status"] == "completed"
	}, time.Second, 10*time.Millisecond)
}

func TestTriggerUnknownPipeline(t *testing.T) {
	ts, exec := newTestServer(t)
	defer ts.Close()
	defer exec.Shutdown(context.Background())

	resp, err := http.Post(ts.URL+"/api/pipelines/does-not-exist/trigger", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeEnvelope(t, resp)
	require.Equal(t, false, body["success"])
}

func TestGetJobInvalidID(t *testing.T) {
	ts, exec := newTestServer(t)
	defer ts.Close()
	defer exec.Shutdown(context.Background())

	tooLong := make([]byte, 150)
	for i := range tooLong {
		tooLong[i] = 'a'
	}
	resp, err := http.Get(ts.URL + "/api/jobs/" + string(tooLong))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSecretsHealthEndpoint(t *testing.T) {
	ts, exec := newTestServer(t)
	defer ts.Close()
	defer exec.Shutdown(context.Background())

	resp, err := http.Get(ts.URL + "/api/health/secrets")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
