package httpserver

import (
	"fmt"
	"strconv"

	"github.com/alephauto/core/internal/domain"
)

// validateJobID applies the single source-of-truth job_id pattern from
// internal/domain to any job_id path parameter.
func validateJobID(jobID string) error {
	if !domain.JobIDPattern.MatchString(jobID) {
		return fmt.Errorf("op=httpserver.validateJobID job_id=%q: %w", jobID, domain.ErrInvalidJobID)
	}
	return nil
}

// validatePipelineID applies the trigger-endpoint pipeline_id pattern.
func validatePipelineID(pipelineID string) error {
	if !domain.PipelineIDPattern.MatchString(pipelineID) {
		return fmt.Errorf("op=httpserver.validatePipelineID pipeline_id=%q: %w", pipelineID, domain.ErrInvalidArgument)
	}
	return nil
}

// parsePagination sanitizes limit/offset query parameters per the
// pagination-clamp invariant: NaN/negative/overflow inputs never reach a
// query unclamped.
func parsePagination(limitStr, offsetStr string, defaultLimit, maxLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(limitStr); err == nil {
		limit = v
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	offset = 0
	if v, err := strconv.Atoi(offsetStr); err == nil {
		offset = v
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
