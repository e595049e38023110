package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alephauto/core/internal/domain"
	"github.com/alephauto/core/internal/executor"
)

// HealthHandler is the liveness probe: GET /health.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// SecretsHealthHandler is GET /api/health/secrets.
func (s *Server) SecretsHealthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.Secrets.GetHealth()
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeData(w, status, health)
}

// StatusHandler is GET /api/status: aggregated stats across every resolved
// executor. Pipelines never triggered are not force-resolved here — only
// cached (already-running) executors contribute.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	cached := s.Registry.CachedExecutors()
	perPipeline := make(map[string]executor.Stats, len(cached))
	var totalActive, totalQueued int
	var totalCompleted, totalFailed int64
	for id, e := range cached {
		full, ok := e.(fullExecutor)
		if !ok {
			continue
		}
		st := full.Stats()
		perPipeline[id] = st
		totalActive += st.Active
		totalQueued += st.Queued
		totalCompleted += st.CompletedTotal
		totalFailed += st.FailedTotal
	}
	writeData(w, http.StatusOK, map[string]any{
		"pipelines": perPipeline,
		"totals": map[string]any{
			"active":          totalActive,
			"queued":          totalQueued,
			"completed_total": totalCompleted,
			"failed_total":    totalFailed,
		},
		"repository": s.Repo.GetHealth(r.Context()),
	})
}

// pipelineView is one entry of GET /api/pipelines.
type pipelineView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Registered bool   `json:"registered"`
}

// PipelinesHandler is GET /api/pipelines.
func (s *Server) PipelinesHandler(w http.ResponseWriter, r *http.Request) {
	descs := s.Registry.Pipelines()
	out := make([]pipelineView, 0, len(descs))
	for _, d := range descs {
		out = append(out, pipelineView{ID: d.PipelineID, Name: d.Name, Registered: true})
	}
	writeData(w, http.StatusOK, map[string]any{"pipelines": out})
}

// triggerRequest is the strict request body for the trigger endpoint: any
// field beyond "parameters" is rejected by DisallowUnknownFields.
type triggerRequest struct {
	Parameters map[string]any `json:"parameters"`
}

// TriggerHandler is POST /api/pipelines/{pipeline_id}/trigger.
func (s *Server) TriggerHandler(w http.ResponseWriter, r *http.Request) {
	pipelineID := chi.URLParam(r, "pipeline_id")
	if err := validatePipelineID(pipelineID); err != nil {
		writeError(w, err)
		return
	}

	var req triggerRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, envelope{
				Success:   false,
				Error:     &apiError{Code: CodeInvalidRequest, Message: "malformed trigger body"},
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
	}

	exec, err := s.Registry.Get(r.Context(), pipelineID)
	if err != nil {
		writeError(w, err)
		return
	}
	full, ok := exec.(fullExecutor)
	if !ok {
		writeError(w, errors.New("op=httpserver.Trigger: executor does not support job creation"))
		return
	}

	job, err := full.CreateJob(r.Context(), req.Parameters)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{
		"job_id":      job.JobID,
		"pipeline_id": job.PipelineID,
		"status":      string(job.Status),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

// JobsListHandler is GET /api/pipelines/{pipeline_id}/jobs.
func (s *Server) JobsListHandler(w http.ResponseWriter, r *http.Request) {
	pipelineID := chi.URLParam(r, "pipeline_id")
	if err := validatePipelineID(pipelineID); err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	limit, offset := parsePagination(q.Get("limit"), q.Get("offset"), 10, s.PaginationMax)

	filter := domain.JobFilter{PipelineID: pipelineID, Limit: limit, Offset: offset}
	if status := q.Get("status"); status != "" {
		filter.Status = domain.JobStatus(status)
	}
	switch q.Get("tab") {
	case "failed":
		filter.Status = domain.JobFailed
	case "recent", "all", "":
	}
	filter.Clamp(s.PaginationMax)

	jobs, total, err := s.Repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"pipeline_id": pipelineID,
		"jobs":        jobs,
		"total":       total,
		"has_more":    filter.Offset+len(jobs) < total,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

// JobGetHandler is GET /api/jobs/{job_id}.
func (s *Server) JobGetHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := validateJobID(jobID); err != nil {
		writeError(w, err)
		return
	}
	job, err := s.Repo.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, job)
}

// resolveExecutorForJob looks up job_id in the repository to discover its
// pipeline_id, then resolves the owning Executor through the Registry.
func (s *Server) resolveExecutorForJob(r *http.Request, jobID string) (fullExecutor, *domain.Job, error) {
	job, err := s.Repo.Get(r.Context(), jobID)
	if err != nil {
		return nil, nil, err
	}
	exec, err := s.Registry.Get(r.Context(), job.PipelineID)
	if err != nil {
		return nil, nil, err
	}
	full, ok := exec.(fullExecutor)
	if !ok {
		return nil, nil, errors.New("op=httpserver.resolveExecutorForJob: executor does not support this operation")
	}
	return full, job, nil
}

// JobCancelHandler is POST /api/jobs/{job_id}/cancel.
func (s *Server) JobCancelHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := validateJobID(jobID); err != nil {
		writeError(w, err)
		return
	}
	exec, _, err := s.resolveExecutorForJob(r, jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	bestEffort, err := exec.Cancel(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	status := "ok"
	if bestEffort {
		status = "ok_best_effort"
	}
	writeData(w, http.StatusOK, map[string]any{"status": status, "job_id": jobID})
}

// JobRetryHandler is POST /api/jobs/{job_id}/retry.
func (s *Server) JobRetryHandler(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := validateJobID(jobID); err != nil {
		writeError(w, err)
		return
	}
	exec, _, err := s.resolveExecutorForJob(r, jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	newJob, err := exec.Retry(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{
		"job_id":      newJob.JobID,
		"pipeline_id": newJob.PipelineID,
		"status":      string(newJob.Status),
	})
}
