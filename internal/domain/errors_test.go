package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors_Messages(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{ErrInvalidJobID, "invalid job id"},
		{ErrUnknownPipeline, "unknown pipeline"},
		{ErrAlreadyTerminal, "job already in a terminal state"},
		{ErrNotFound, "not found"},
		{ErrInitFailed, "worker factory failed"},
		{ErrSecretUnavailable, "secret unavailable"},
		{ErrPersist, "persistence failure"},
		{ErrInvalidArgument, "invalid argument"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, got)
		}
	}
}

func TestSentinelErrors_WrapAndUnwrap(t *testing.T) {
	wrapped := fmt.Errorf("op=domain.Test: %w", ErrNotFound)
	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatal("expected wrapped error to match ErrNotFound via errors.Is")
	}
	if errors.Is(wrapped, ErrInvalidJobID) {
		t.Fatal("expected wrapped ErrNotFound to not match ErrInvalidJobID")
	}
}
