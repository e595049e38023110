package classify_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alephauto/core/internal/classify"
)

type codedErr struct {
	code string
	msg  string
}

func (e *codedErr) Error() string { return e.msg }
func (e *codedErr) Code() string  { return e.code }

type statusErr struct {
	status int
	msg    string
}

func (e *statusErr) Error() string   { return e.msg }
func (e *statusErr) StatusCode() int { return e.status }

func TestClassify_NetworkCodesAreRetryable(t *testing.T) {
	for _, code := range []string{"ETIMEDOUT", "ECONNRESET", "EAI_AGAIN"} {
		v := classify.Classify(&codedErr{code: code, msg: "boom"})
		assert.True(t, v.Retryable, code)
		assert.Equal(t, classify.ReasonNetwork, v.Reason)
	}
}

func TestClassify_ENOENTIsNonRetryable(t *testing.T) {
	v := classify.Classify(&codedErr{code: "ENOENT", msg: "no such file"})
	require.False(t, v.Retryable)
	assert.Equal(t, classify.ReasonMissingPath, v.Reason)
}

func TestClassify_5xxRetryable4xxNot(t *testing.T) {
	v := classify.Classify(&statusErr{status: 503, msg: "unavailable"})
	assert.True(t, v.Retryable)
	assert.Equal(t, classify.ReasonUpstream5xx, v.Reason)

	v = classify.Classify(&statusErr{status: 404, msg: "missing"})
	assert.False(t, v.Retryable)
	assert.Equal(t, classify.ReasonClient4xx, v.Reason)
}

func TestClassify_UnknownDefault(t *testing.T) {
	v := classify.Classify(errors.New("something weird happened"))
	assert.False(t, v.Retryable)
	assert.Equal(t, classify.ReasonUnknown, v.Reason)
}

func TestClassify_Deterministic(t *testing.T) {
	e1 := fmt.Errorf("wrap: %w", &codedErr{code: "ETIMEDOUT", msg: "x"})
	e2 := fmt.Errorf("wrap: %w", &codedErr{code: "ETIMEDOUT", msg: "x"})
	assert.Equal(t, classify.Classify(e1), classify.Classify(e2))
}
