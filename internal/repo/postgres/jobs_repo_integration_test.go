//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alephauto/core/internal/domain"
	"github.com/alephauto/core/internal/repo/postgres"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "alephauto",
			"POSTGRES_PASSWORD": "alephauto",
			"POSTGRES_DB":       "alephauto",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://alephauto:alephauto@%s:%s/alephauto?sslmode=disable", host, port.Port())
}

func TestJobsRepo_SaveGetList_Integration(t *testing.T) {
	dsn := startPostgres(t)

	require.NoError(t, postgres.RunMigrations(dsn))

	pool, err := postgres.NewPool(context.Background(), dsn)
	require.NoError(t, err)
	defer pool.Close()

	repo := postgres.NewJobsRepo(pool)

	job := &domain.Job{
		JobID:      "job-int-1",
		PipelineID: "echo",
		Status:     domain.JobQueued,
		Data:       map[string]any{"x": 1},
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.Save(context.Background(), job))

	got, err := repo.Get(context.Background(), "job-int-1")
	require.NoError(t, err)
	require.Equal(t, "echo", got.PipelineID)
	require.Equal(t, domain.JobQueued, got.Status)

	jobs, total, err := repo.List(context.Background(), domain.JobFilter{PipelineID: "echo", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, jobs, 1)
}
