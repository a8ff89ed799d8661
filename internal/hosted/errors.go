// Package hosted talks to hosted Git platforms for authoritative pull request data.
package hosted

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnavailable matches every error after which callers should stop asking the platform
// and fall back to history heuristics.
var ErrUnavailable = errors.New("hosted api unavailable")

var (
	ErrUnauthorized     = fmt.Errorf("%w: unauthorized", ErrUnavailable)
	ErrForbidden        = fmt.Errorf("%w: forbidden", ErrUnavailable)
	ErrNotFound         = fmt.Errorf("%w: not found", ErrUnavailable)
	ErrRetriesExhausted = fmt.Errorf("%w: retries exhausted", ErrUnavailable)
)

// APIError is a non-2xx response that is not covered by a sentinel.
type APIError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.URL, e.StatusCode, e.Body)
}

// Unwrap lets errors.Is classify the response.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	}
	return ErrUnavailable
}

// statusError converts a response status into an error, or nil for 2xx.
func statusError(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return &APIError{StatusCode: resp.StatusCode, URL: resp.Request.URL.String(), Body: string(body)}
}
