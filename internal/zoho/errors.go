package zoho

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a normalized vendor API failure: either a non-2xx HTTP status
// or a 200 response carrying an embedded non-zero vendor error code.
type APIError struct {
	Surface    Surface
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (http %d, code %d): %s", e.Surface, e.StatusCode, e.Code, e.Message)
}

// RateLimited reports whether the failure was a vendor rate-limit rejection.
// Zoho signals this with HTTP 429 or a "too many requests" message on some
// surfaces.
func (e *APIError) RateLimited() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
}

// MalformedResponseError indicates the vendor returned a body that is not
// valid JSON (empty or HTML bodies are observed during vendor outages).
// It is treated as a transient vendor fault, never a crash.
type MalformedResponseError struct {
	Surface Surface
	Snippet string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s returned a malformed response: %v (body: %q)", e.Surface, e.Err, e.Snippet)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err wraps a rate-limited vendor failure.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.RateLimited()
}
