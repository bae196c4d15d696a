package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusError(t *testing.T) {
	err := NewStatusError(404)
	assert.ErrorIs(t, err, ErrBadStatus)
	assert.Equal(t, 404, StatusCode(err))
	assert.Equal(t, 404, StatusCode(fmt.Errorf("fetching page: %w", err)))
	assert.Zero(t, StatusCode(errors.New("no status here")))
}

func TestSelectorError(t *testing.T) {
	err := &SelectorError{Name: "image"}
	assert.ErrorIs(t, err, ErrMissingSelector)
	assert.Contains(t, err.Error(), "image")
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "None"},
		{"cancelled", context.Canceled, "System_ContextCanceled"},
		{"deadline", context.DeadlineExceeded, "System_ContextDeadlineExceeded"},
		{"not found", NewStatusError(404), "HTTP_404"},
		{"forbidden", NewStatusError(403), "HTTP_403"},
		{"throttled", NewStatusError(429), "HTTP_429"},
		{"server error", NewStatusError(503), "HTTP_5xx"},
		{"other status", NewStatusError(301), "HTTP_Other"},
		// Status beats retry exhaustion: a 404 after retries is still a 404
		{"status after retries", fmt.Errorf("%w: %w", ErrRetryFailed, NewStatusError(404)), "HTTP_404"},
		{"network after retries", fmt.Errorf("%w: %w", ErrRetryFailed, ErrNetwork), "Network_RetryFailed"},
		{"missing selector", &SelectorError{Name: "image"}, "Config_MissingSelector"},
		{"invalid base URL", fmt.Errorf("%w: ':bad'", ErrInvalidBaseURL), "Config_InvalidBaseURL"},
		{"parse", fmt.Errorf("%w: undecodable body", ErrParse), "Content_Parsing"},
		{"profile", fmt.Errorf("%w: missing key", ErrProfileInvalid), "Profile_Invalid"},
		{"filesystem missing", fmt.Errorf("%w: %w", ErrFilesystem, os.ErrNotExist), "Filesystem_NotExist"},
		{"filesystem other", fmt.Errorf("%w: disk full", ErrFilesystem), "Filesystem_Other"},
		{"database", fmt.Errorf("%w: txn conflict", ErrDatabase), "Database_Other"},
		{"transport", fmt.Errorf("%w: connection reset", ErrNetwork), "Network_Transport"},
		{"unknown", errors.New("mystery"), "Unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CategorizeError(tc.err))
		})
	}
}
