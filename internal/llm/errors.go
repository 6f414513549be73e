package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// APIError represents a provider error with an HTTP status code.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// IsRetryableAPIError returns true if the API error has a retryable status code.
func IsRetryableAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return false
}

// IsFatalAPIError returns true for 4xx errors that no retry can fix
// (auth, bad request). These surface to the user immediately.
func IsFatalAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429
	}
	return false
}

// IsRetryableError checks if an error is retryable using typed checks,
// with string fallback only for untyped errors from third-party libraries.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if IsFatalAPIError(err) {
		return false
	}
	if IsRetryableAPIError(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	untyped := []string{
		"rate limit",
		"connection refused",
		"connection reset",
		"no such host",
		"timeout",
		"eof",
		"tls handshake",
		"unavailable",
		"resource_exhausted",
	}
	for _, pattern := range untyped {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}
