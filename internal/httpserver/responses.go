package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alephauto/core/internal/domain"
	"github.com/alephauto/core/internal/registry"
)

// envelope is the stable response shape every endpoint returns.
type envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *apiError `json:"error,omitempty"`
	Timestamp string    `json:"timestamp"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Stable error code constants returned in apiError.Code.
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeInvalidJobID        = "INVALID_JOB_ID"
	CodeUnknownPipeline     = "UNKNOWN_PIPELINE"
	CodeAlreadyTerminal     = "ALREADY_TERMINAL"
	CodeNotFound            = "NOT_FOUND"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeInternal            = "INTERNAL"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// fieldError is one entry of error.details.errors for validation failures.
type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func writeValidationError(w http.ResponseWriter, verrs validator.ValidationErrors) {
	details := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fieldError{
			Field:   fe.Field(),
			Message: fe.Error(),
			Code:    fe.Tag(),
		})
	}
	writeJSON(w, http.StatusBadRequest, envelope{
		Success: false,
		Error: &apiError{
			Code:    CodeInvalidRequest,
			Message: "request validation failed",
			Details: map[string]any{"errors": details},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// writeError dispatches err to an HTTP status and stable error code using
// errors.Is, the same taxonomy-to-status mapping pattern this codebase's
// HTTP layer uses elsewhere.
func writeError(w http.ResponseWriter, err error) {
	status, code := classifyAPIError(err)
	writeJSON(w, status, envelope{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: err.Error(),
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func classifyAPIError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidJobID):
		return http.StatusBadRequest, CodeInvalidJobID
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, domain.ErrUnknownPipeline):
		return http.StatusNotFound, CodeUnknownPipeline
	case errors.Is(err, domain.ErrAlreadyTerminal):
		return http.StatusConflict, CodeAlreadyTerminal
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, domain.ErrSecretUnavailable):
		return http.StatusServiceUnavailable, CodeUpstreamUnavailable
	default:
		var unk *registry.UnknownPipelineError
		if errors.As(err, &unk) {
			return http.StatusNotFound, CodeUnknownPipeline
		}
		return http.StatusInternalServerError, CodeInternal
	}
}
