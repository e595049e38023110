package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/alephauto/core/internal/domain"
)

var tracer = otel.Tracer("repo.jobs")

// JobsRepo implements repo.Store against a Postgres jobs table.
type JobsRepo struct {
	Pool *pgxpool.Pool
}

// NewJobsRepo constructs a JobsRepo.
func NewJobsRepo(pool *pgxpool.Pool) *JobsRepo {
	return &JobsRepo{Pool: pool}
}

// Save upserts job by job_id using a single statement with ON CONFLICT, the
// atomic-upsert requirement from the persistent store layout.
func (r *JobsRepo) Save(ctx context.Context, job *domain.Job) error {
	ctx, span := tracer.Start(ctx, "JobsRepo.Save")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "upsert"),
		attribute.String("db.sql.table", "jobs"),
	)

	data, err := json.Marshal(job.Data)
	if err != nil {
		return fmt.Errorf("op=postgres.JobsRepo.Save marshal data: %w", err)
	}
	result, err := marshalNullable(job.Result)
	if err != nil {
		return fmt.Errorf("op=postgres.JobsRepo.Save marshal result: %w", err)
	}
	jobErr, err := marshalNullable(job.Error)
	if err != nil {
		return fmt.Errorf("op=postgres.JobsRepo.Save marshal error: %w", err)
	}
	gitCtx, err := marshalNullable(job.GitContext)
	if err != nil {
		return fmt.Errorf("op=postgres.JobsRepo.Save marshal git_context: %w", err)
	}

	const q = `
		INSERT INTO jobs (job_id, pipeline_id, status, data, result, error, attempts, max_retries, git_context, created_at, started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			attempts = EXCLUDED.attempts,
			max_retries = EXCLUDED.max_retries,
			git_context = EXCLUDED.git_context,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`

	_, err = r.Pool.Exec(ctx, q,
		job.JobID, job.PipelineID, string(job.Status), data, result, jobErr,
		job.Attempts, job.MaxRetries, gitCtx, job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("op=postgres.JobsRepo.Save job_id=%s: %w", job.JobID, err)
	}
	return nil
}

// Get fetches a single job by id.
func (r *JobsRepo) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	ctx, span := tracer.Start(ctx, "JobsRepo.Get")
	defer span.End()

	const q = `
		SELECT job_id, pipeline_id, status, data, result, error, attempts, max_retries, git_context, created_at, started_at, completed_at
		FROM jobs WHERE job_id = $1`

	row := r.Pool.QueryRow(ctx, q, jobID)
	job, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("op=postgres.JobsRepo.Get job_id=%s: %w", jobID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=postgres.JobsRepo.Get job_id=%s: %w", jobID, err)
	}
	return job, nil
}

// List returns jobs matching filter ordered by created_at desc, plus the
// total matching count (ignoring pagination) for has_more computation.
func (r *JobsRepo) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, int, error) {
	ctx, span := tracer.Start(ctx, "JobsRepo.List")
	defer span.End()

	where, args := buildWhere(filter)
	q := fmt.Sprintf(`
		SELECT job_id, pipeline_id, status, data, result, error, attempts, max_retries, git_context, created_at, started_at, completed_at
		FROM jobs %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("op=postgres.JobsRepo.List: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("op=postgres.JobsRepo.List scan: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("op=postgres.JobsRepo.List: %w", err)
	}

	total, err := r.Count(ctx, domain.JobFilter{PipelineID: filter.PipelineID, Status: filter.Status})
	if err != nil {
		return nil, 0, err
	}
	return jobs, int(total), nil
}

// Count returns the number of jobs matching filter's pipeline/status.
func (r *JobsRepo) Count(ctx context.Context, filter domain.JobFilter) (int64, error) {
	ctx, span := tracer.Start(ctx, "JobsRepo.Count")
	defer span.End()

	where, args := buildWhere(filter)
	q := fmt.Sprintf(`SELECT count(*) FROM jobs %s`, where)

	var total int64
	if err := r.Pool.QueryRow(ctx, q, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("op=postgres.JobsRepo.Count: %w", err)
	}
	return total, nil
}

func buildWhere(filter domain.JobFilter) (string, []any) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if filter.PipelineID != "" {
		args = append(args, filter.PipelineID)
		clauses = append(clauses, fmt.Sprintf("pipeline_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	where := "WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                         domain.Job
		status                      string
		data, result, jobErr, gitCx []byte
	)
	if err := row.Scan(&job.JobID, &job.PipelineID, &status, &data, &result, &jobErr,
		&job.Attempts, &job.MaxRetries, &gitCx, &job.CreatedAt, &job.StartedAt, &job.CompletedAt); err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)

	if len(data) > 0 {
		if err := json.Unmarshal(data, &job.Data); err != nil {
			return nil, fmt.Errorf("unmarshal data: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if len(jobErr) > 0 {
		job.Error = &domain.JobError{}
		if err := json.Unmarshal(jobErr, job.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	if len(gitCx) > 0 {
		job.GitContext = &domain.GitContext{}
		if err := json.Unmarshal(gitCx, job.GitContext); err != nil {
			return nil, fmt.Errorf("unmarshal git_context: %w", err)
		}
	}
	return &job, nil
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
