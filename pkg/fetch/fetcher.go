package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"comic-archiver/pkg/config"
	"comic-archiver/pkg/utils"
)

// Fetcher performs HTTP requests carrying a fixed User-Agent and an optional
// Referer, with retry logic for HTML page fetches.
type Fetcher struct {
	client *http.Client
	cfg    *config.AppConfig
	log    *logrus.Logger
}

// NewFetcher creates a new Fetcher instance.
func NewFetcher(client *http.Client, cfg *config.AppConfig, log *logrus.Logger) *Fetcher {
	return &Fetcher{
		client: client,
		cfg:    cfg,
		log:    log,
	}
}

// newRequest builds a GET request with the configured User-Agent and the
// given Referer (empty referer omits the header).
func (f *Fetcher) newRequest(ctx context.Context, rawURL, referer string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request for '%s': %v", utils.ErrInvalidBaseURL, rawURL, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	return req, nil
}

// FetchHTML fetches a page and decodes its body as text. Non-2xx statuses
// surface as StatusError; undecodable bodies as ErrParse. Up to MaxRetries
// total attempts are made with linear backoff (RetryBackoffStep x attempt
// number) between them; when all attempts fail the last error is wrapped in
// ErrRetryFailed. Context cancellation aborts immediately: no retry, no
// backoff sleep, no wrap.
func (f *Fetcher) FetchHTML(ctx context.Context, rawURL, referer string) (string, error) {
	reqLog := f.log.WithField("url", rawURL)

	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := f.cfg.RetryBackoffStep * time.Duration(attempt-1)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Warn("Retrying fetch...")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := f.fetchHTMLOnce(ctx, rawURL, referer)
		if err == nil {
			return text, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			reqLog.Warnf("Context cancelled during fetch: %v", err)
			return "", err
		}
		reqLog.WithField("attempt", attempt).Warnf("Fetch failed: %v", err)
		lastErr = err
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", f.cfg.MaxRetries, lastErr)
	return "", fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

// fetchHTMLOnce performs a single fetch attempt and decodes the body.
func (f *Fetcher) fetchHTMLOnce(ctx context.Context, rawURL, referer string) (string, error) {
	req, err := f.newRequest(ctx, rawURL, referer)
	if err != nil {
		return "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", utils.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", utils.NewStatusError(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: reading body: %v", utils.ErrNetwork, err)
	}

	return DecodeBody(body, resp.Header.Get("Content-Type"))
}

// FetchBytes fetches raw bytes (used for cover capture). Returns the body and
// the response Content-Type. Single attempt; callers treat failures as
// best-effort.
func (f *Fetcher) FetchBytes(ctx context.Context, rawURL, referer string) ([]byte, string, error) {
	req, err := f.newRequest(ctx, rawURL, referer)
	if err != nil {
		return nil, "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("%w: %v", utils.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, "", utils.NewStatusError(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading body: %v", utils.ErrNetwork, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
