package config

import "time"

// AppConfig holds the global application configuration.
type AppConfig struct {
	UserAgent              string           `yaml:"user_agent,omitempty"`
	StateDir               string           `yaml:"state_dir"`
	OutputBaseDir          string           `yaml:"output_base_dir"`
	MaxPages               int              `yaml:"max_pages,omitempty"` // 0 = unlimited
	Overwrite              bool             `yaml:"overwrite,omitempty"`
	MaxConcurrentDownloads int              `yaml:"max_concurrent_downloads,omitempty"`
	CommitThreshold        int              `yaml:"commit_threshold,omitempty"`
	DedupWindowPages       int              `yaml:"dedup_window_pages,omitempty"`
	SaveEvery              int              `yaml:"save_every,omitempty"`
	MaxRetries             int              `yaml:"max_retries,omitempty"` // Total attempts per request
	RetryBackoffStep       time.Duration    `yaml:"retry_backoff_step,omitempty"`
	HTTPClientSettings     HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client.
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

const (
	// DefaultUserAgent is sent on every request unless overridden.
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

	// DefaultMaxConcurrentDownloads bounds the downloader's in-flight window.
	DefaultMaxConcurrentDownloads = 10
	// MaxConcurrentDownloadsCeiling is the hard upper clamp.
	MaxConcurrentDownloadsCeiling = 24

	// DefaultCommitThreshold is the pending-record count that triggers a
	// batch commit during a crawl. Tunable, not a contract.
	DefaultCommitThreshold = 100
	// DefaultDedupWindowPages bounds the in-memory dedup seed to the last N
	// pages' image refs. Tunable, not a contract.
	DefaultDedupWindowPages = 200
	// DefaultSaveEvery is the number of successful writes between periodic
	// downloader commits.
	DefaultSaveEvery = 50

	// DefaultMaxRetries is the total number of fetch attempts.
	DefaultMaxRetries = 3
	// DefaultRetryBackoffStep is multiplied by the attempt number between
	// retries (linear backoff).
	DefaultRetryBackoffStep = 200 * time.Millisecond
)
