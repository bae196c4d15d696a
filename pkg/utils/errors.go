package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrNetwork         = errors.New("network error")            // Client-level transport failure (DNS, TCP, TLS)
	ErrBadStatus       = errors.New("unexpected HTTP status")   // Non-2xx response; wrapped by StatusError
	ErrParse           = errors.New("parsing error")            // HTML/encoding/data-URL parsing failed
	ErrInvalidBaseURL  = errors.New("invalid base URL")         // Start or page URL is not an absolute URL
	ErrMissingSelector = errors.New("required selector unset")  // Wrapped by SelectorError
	ErrRetryFailed     = errors.New("request failed after all retries")
	ErrFilesystem      = errors.New("filesystem error")         // Wraps os errors
	ErrDatabase        = errors.New("catalog store error")      // Wraps badger errors
	ErrProfileInvalid  = errors.New("invalid profile document")
)

// StatusError reports a non-2xx HTTP status. errors.Is(err, ErrBadStatus)
// matches any StatusError.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.Code)
}

func (e *StatusError) Is(target error) bool { return target == ErrBadStatus }

// NewStatusError wraps a status code in a StatusError.
func NewStatusError(code int) error { return &StatusError{Code: code} }

// StatusCode extracts the HTTP status code from an error chain, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// SelectorError reports a required selector that was left unset.
// errors.Is(err, ErrMissingSelector) matches any SelectorError.
type SelectorError struct {
	Name string
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("required selector %q unset", e.Name)
}

func (e *SelectorError) Is(target error) bool { return target == ErrMissingSelector }

// CategorizeError maps an error to a predefined category string for logging.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, context.Canceled):
		return "System_ContextCanceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "System_ContextDeadlineExceeded"
	case errors.Is(err, ErrBadStatus):
		switch code := StatusCode(err); {
		case code == 404:
			return "HTTP_404"
		case code == 403:
			return "HTTP_403"
		case code == 429:
			return "HTTP_429"
		case code >= 500:
			return "HTTP_5xx"
		default:
			return "HTTP_Other"
		}
	case errors.Is(err, ErrRetryFailed):
		return "Network_RetryFailed"
	case errors.Is(err, ErrMissingSelector):
		return "Config_MissingSelector"
	case errors.Is(err, ErrInvalidBaseURL):
		return "Config_InvalidBaseURL"
	case errors.Is(err, ErrParse):
		return "Content_Parsing"
	case errors.Is(err, ErrProfileInvalid):
		return "Profile_Invalid"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrNetwork):
		return "Network_Transport"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "Network_Timeout"
		}
		return "Network_Other"
	}

	lowerMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerMsg, "timeout") || strings.Contains(lowerMsg, "deadline exceeded") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerMsg, "no such host") {
		return "Network_DNSLookup"
	}

	return "Unknown"
}
