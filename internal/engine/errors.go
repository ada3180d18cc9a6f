package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// StatusError is an HTTP response with a non-success status code.
type StatusError struct {
	Status int
	URL    string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("status %d from %s: %s", e.Status, e.URL, e.Body)
	}
	return fmt.Sprintf("status %d from %s", e.Status, e.URL)
}

// NormalizationError means the transport call succeeded but the response
// could not be converted into the category's canonical shape. It counts as a
// provider failure but is never retried on the same provider.
type NormalizationError struct {
	Provider string
	Err      error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize response from %s: %v", e.Provider, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// Attempt records one failed provider attempt inside a fetch.
type Attempt struct {
	Provider string `json:"provider"`
	Err      error  `json:"-"`
	Message  string `json:"error"`
}

// ExhaustedError is returned when every candidate provider in a category
// failed. Attempts are in the order the providers were tried.
type ExhaustedError struct {
	Category string
	Endpoint string
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Provider, a.Message))
	}
	return fmt.Sprintf("%s %s: all %d providers failed: %s",
		e.Category, e.Endpoint, len(e.Attempts), strings.Join(parts, "; "))
}

// IsRetryable classifies an error for the retry policy. Rate limits (429),
// server errors (5xx) and transport-level timeouts are retryable; other HTTP
// client errors and normalization failures are not. Unknown transport errors
// (connection reset, DNS) are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ne *NormalizationError
	if errors.As(err, &ne) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == 429 || se.Status >= 500
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}

	return true
}

// isRateLimited reports whether err is an HTTP 429 response.
func isRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == 429
}
