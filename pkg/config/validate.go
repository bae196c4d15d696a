package config

import (
	"fmt"
	"time"
)

// Validate checks AppConfig fields and applies defaults and clamps.
// Returns collected warnings; modifies the receiver in place.
func (c *AppConfig) Validate() (warnings []string) {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './archiver_state'")
		c.StateDir = "./archiver_state"
	}
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './comics'")
		c.OutputBaseDir = "./comics"
	}

	if c.MaxPages < 0 {
		warnings = append(warnings, "max_pages cannot be negative, disabling page cap")
		c.MaxPages = 0
	}

	if c.MaxConcurrentDownloads == 0 {
		c.MaxConcurrentDownloads = DefaultMaxConcurrentDownloads
	}
	if c.MaxConcurrentDownloads < 1 {
		warnings = append(warnings, "max_concurrent_downloads below 1, clamping to 1")
		c.MaxConcurrentDownloads = 1
	}
	if c.MaxConcurrentDownloads > MaxConcurrentDownloadsCeiling {
		warnings = append(warnings, fmt.Sprintf(
			"max_concurrent_downloads above %d, clamping to %d",
			MaxConcurrentDownloadsCeiling, MaxConcurrentDownloadsCeiling))
		c.MaxConcurrentDownloads = MaxConcurrentDownloadsCeiling
	}

	if c.CommitThreshold <= 0 {
		c.CommitThreshold = DefaultCommitThreshold
	}
	if c.DedupWindowPages <= 0 {
		c.DedupWindowPages = DefaultDedupWindowPages
	}
	if c.SaveEvery <= 0 {
		c.SaveEvery = DefaultSaveEvery
	}

	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoffStep <= 0 {
		c.RetryBackoffStep = DefaultRetryBackoffStep
	}

	if c.HTTPClientSettings.Timeout <= 0 {
		c.HTTPClientSettings.Timeout = 60 * time.Second
	}
	if c.HTTPClientSettings.MaxIdleConns <= 0 {
		c.HTTPClientSettings.MaxIdleConns = 100
	}
	if c.HTTPClientSettings.MaxIdleConnsPerHost <= 0 {
		c.HTTPClientSettings.MaxIdleConnsPerHost = 10
	}
	if c.HTTPClientSettings.IdleConnTimeout <= 0 {
		c.HTTPClientSettings.IdleConnTimeout = 90 * time.Second
	}
	if c.HTTPClientSettings.TLSHandshakeTimeout <= 0 {
		c.HTTPClientSettings.TLSHandshakeTimeout = 10 * time.Second
	}
	if c.HTTPClientSettings.ExpectContinueTimeout <= 0 {
		c.HTTPClientSettings.ExpectContinueTimeout = 1 * time.Second
	}
	if c.HTTPClientSettings.DialerTimeout <= 0 {
		c.HTTPClientSettings.DialerTimeout = 30 * time.Second
	}
	if c.HTTPClientSettings.DialerKeepAlive <= 0 {
		c.HTTPClientSettings.DialerKeepAlive = 30 * time.Second
	}

	return warnings
}
