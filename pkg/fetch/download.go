package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"comic-archiver/pkg/utils"
)

// DownloadToTemp streams the response body for url into a temp file and
// returns its path and the response Content-Type. Non-2xx responses discard
// the temp file and surface as StatusError. The caller owns the temp file on
// success and must remove or rename it.
func (f *Fetcher) DownloadToTemp(ctx context.Context, rawURL, referer string) (tmpPath, contentType string, err error) {
	req, err := f.newRequest(ctx, rawURL, referer)
	if err != nil {
		return "", "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", "", err
		}
		return "", "", fmt.Errorf("%w: %v", utils.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", "", utils.NewStatusError(resp.StatusCode)
	}

	tmpFile, err := os.CreateTemp("", "comic-archiver-*")
	if err != nil {
		return "", "", fmt.Errorf("%w: creating temp file: %v", utils.ErrFilesystem, err)
	}

	_, copyErr := io.Copy(tmpFile, resp.Body)
	closeErr := tmpFile.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmpFile.Name())
		if copyErr == nil {
			copyErr = closeErr
		}
		if errors.Is(copyErr, context.Canceled) || errors.Is(copyErr, context.DeadlineExceeded) {
			return "", "", copyErr
		}
		return "", "", fmt.Errorf("%w: writing temp file: %v", utils.ErrFilesystem, copyErr)
	}

	return tmpFile.Name(), resp.Header.Get("Content-Type"), nil
}
