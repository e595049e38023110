// Package classify implements the single source of truth for retry
// decisions: a pure function mapping any error into a retryable/
// non-retryable verdict with a stable reason code. No component other than
// this package decides retryability.
package classify

import (
	"errors"
	"net"
	"os"
	"strings"
)

// Reason codes, matched in priority order by Classify.
const (
	ReasonNetwork     = "network"
	ReasonUpstream5xx = "upstream-5xx"
	ReasonMissingPath = "missing-path"
	ReasonClient4xx   = "client-4xx"
	ReasonValidation  = "validation"
	ReasonUnknown     = "unknown"
	ReasonTimeout     = "timeout"
)

// Verdict is the classifier's output: whether the error should be retried
// and why.
type Verdict struct {
	Retryable bool
	Reason    string
}

// StatusCoder is implemented by worker errors that carry an HTTP-style
// status code, e.g. an upstream API error.
type StatusCoder interface {
	StatusCode() int
}

// Coder is implemented by worker errors that carry a POSIX-style error
// code such as ETIMEDOUT or ENOENT.
type Coder interface {
	Code() string
}

// ValidationError is implemented by errors produced by request/payload
// validation; these are never retryable regardless of message content.
type ValidationError interface {
	IsValidation() bool
}

// TimeoutError is implemented by errors that represent a worker-side or
// per-job execution timeout.
type TimeoutError interface {
	IsTimeout() bool
}

// Classify applies the fixed rule table (first match wins) to err and
// returns a deterministic verdict. Equal-valued errors always classify
// identically; this is exercised directly by the determinism property test.
func Classify(err error) Verdict {
	if err == nil {
		return Verdict{Retryable: false, Reason: ReasonUnknown}
	}

	if code := extractCode(err); code != "" {
		switch code {
		case "ETIMEDOUT", "ECONNRESET", "EAI_AGAIN":
			return Verdict{Retryable: true, Reason: ReasonNetwork}
		case "ENOENT":
			// Historically retried; fixed per the ENOENT bugfix decision:
			// a missing path will not materialize on retry.
			return Verdict{Retryable: false, Reason: ReasonMissingPath}
		}
	}

	if status := extractStatus(err); status != 0 {
		switch {
		case status >= 500 && status <= 599:
			return Verdict{Retryable: true, Reason: ReasonUpstream5xx}
		case status >= 400 && status <= 499:
			return Verdict{Retryable: false, Reason: ReasonClient4xx}
		}
	}

	var timeoutErr TimeoutError
	if errors.As(err, &timeoutErr) && timeoutErr.IsTimeout() {
		return Verdict{Retryable: true, Reason: ReasonTimeout}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Verdict{Retryable: true, Reason: ReasonNetwork}
	}

	if errors.Is(err, os.ErrNotExist) {
		return Verdict{Retryable: false, Reason: ReasonMissingPath}
	}

	var valErr ValidationError
	if errors.As(err, &valErr) && valErr.IsValidation() {
		return Verdict{Retryable: false, Reason: ReasonValidation}
	}

	if looksLikeValidation(err.Error()) {
		return Verdict{Retryable: false, Reason: ReasonValidation}
	}

	return Verdict{Retryable: false, Reason: ReasonUnknown}
}

func extractCode(err error) string {
	var coder Coder
	if errors.As(err, &coder) {
		return coder.Code()
	}
	return ""
}

func extractStatus(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

// looksLikeValidation mirrors the teacher's classifyFailureCode message-
// sniffing fallback for errors that don't implement a typed interface but
// carry a recognizable validation message.
func looksLikeValidation(msg string) bool {
	m := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case strings.Contains(m, "invalid argument"),
		strings.Contains(m, "schema invalid"),
		strings.Contains(m, "invalid json"),
		strings.Contains(m, "out of range"):
		return true
	}
	return false
}
