// Package gphotos is an HTTP client for the photo library upload API: raw
// byte staging, batched media item creation, and the OAuth2 token endpoint.
// Requests are retried with exponential backoff and failures are classified
// into sentinel errors.
package gphotos

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, gphotos.ErrDuplicate) to check.
var (
	ErrBadRequest   = errors.New("gphotos: bad request")
	ErrUnauthorized = errors.New("gphotos: unauthorized")
	ErrForbidden    = errors.New("gphotos: forbidden")
	ErrNotFound     = errors.New("gphotos: not found")
	ErrDuplicate    = errors.New("gphotos: content already exists")
	ErrTooLarge     = errors.New("gphotos: payload too large")
	ErrThrottled    = errors.New("gphotos: throttled")
	ErrServerError  = errors.New("gphotos: server error")
)

// APIError wraps a sentinel error with the HTTP status, the service's error
// status string, and its message.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gphotos: HTTP %d %s: %s", e.StatusCode, e.Status, e.Message)
	}

	return fmt.Sprintf("gphotos: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// errorEnvelope is the JSON error body returned by the API.
type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// newAPIError builds an APIError from a non-2xx response body. Non-JSON
// bodies are kept verbatim as the message.
func newAPIError(code int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: code,
		Message:    strings.TrimSpace(string(body)),
		Err:        classifyStatus(code),
	}

	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		apiErr.Message = env.Error.Message
		apiErr.Status = env.Error.Status
	}

	if apiErr.Err == nil {
		apiErr.Err = fmt.Errorf("gphotos: unexpected status %d", code)
	}

	return apiErr
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes with no sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrDuplicate
	case http.StatusRequestEntityTooLarge:
		return ErrTooLarge
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
