package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateDefaults(t *testing.T) {
	var cfg AppConfig
	warnings := cfg.Validate()

	assert.NotEmpty(t, warnings) // state_dir and output_base_dir default
	assert.Equal(t, DefaultUserAgent, cfg.UserAgent)
	assert.Equal(t, DefaultMaxConcurrentDownloads, cfg.MaxConcurrentDownloads)
	assert.Equal(t, DefaultCommitThreshold, cfg.CommitThreshold)
	assert.Equal(t, DefaultDedupWindowPages, cfg.DedupWindowPages)
	assert.Equal(t, DefaultSaveEvery, cfg.SaveEvery)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultRetryBackoffStep, cfg.RetryBackoffStep)
	assert.Equal(t, 60*time.Second, cfg.HTTPClientSettings.Timeout)
}

func TestValidateClampsConcurrency(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"zero defaults", 0, DefaultMaxConcurrentDownloads},
		{"negative clamps to 1", -3, 1},
		{"in range untouched", 16, 16},
		{"above ceiling clamps", 100, MaxConcurrentDownloadsCeiling},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{MaxConcurrentDownloads: tt.in}
			cfg.Validate()
			assert.Equal(t, tt.want, cfg.MaxConcurrentDownloads)
		})
	}
}

func TestValidateNegativeMaxPages(t *testing.T) {
	cfg := AppConfig{MaxPages: -5}
	warnings := cfg.Validate()
	assert.Equal(t, 0, cfg.MaxPages)
	assert.NotEmpty(t, warnings)
}

func TestValidatePreservesExplicitValues(t *testing.T) {
	cfg := AppConfig{
		UserAgent:        "test-agent/1.0",
		StateDir:         "/tmp/state",
		OutputBaseDir:    "/tmp/out",
		CommitThreshold:  5,
		DedupWindowPages: 10,
		SaveEvery:        2,
		MaxRetries:       1,
		RetryBackoffStep: time.Millisecond,
	}
	warnings := cfg.Validate()
	assert.Empty(t, warnings)
	assert.Equal(t, "test-agent/1.0", cfg.UserAgent)
	assert.Equal(t, 5, cfg.CommitThreshold)
	assert.Equal(t, 10, cfg.DedupWindowPages)
	assert.Equal(t, 2, cfg.SaveEvery)
	assert.Equal(t, 1, cfg.MaxRetries)
}
