package examplepipelines_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alephauto/core/internal/classify"
	"github.com/alephauto/core/internal/examplepipelines"
)

func TestEcho_ReturnsWrappedInput(t *testing.T) {
	out, err := examplepipelines.Echo{}.Execute(context.Background(), map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1}, out["echoed"])
}

func TestFlaky_FailsThenSucceeds(t *testing.T) {
	f := &examplepipelines.Flaky{FailFirst: 2}

	_, err := f.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, classify.Classify(err).Retryable)

	_, err = f.Execute(context.Background(), nil)
	require.Error(t, err)

	out, err := f.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
}
