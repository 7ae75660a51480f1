package providers

import (
	"errors"
	"fmt"
)

// InvalidInputError means the caller built a bad request; retrying the same
// call cannot succeed.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// HTTPError is a non-2xx response from the provider.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, e.Body)
}

// RateLimitError is the 429 flavor of HTTPError, carrying the reset headers
// so callers can decide how long to hold off.
type RateLimitError struct {
	StatusCode             int
	Body                   string
	RetryAfter             string
	RateLimitRequestsReset string
	RateLimitTokensReset   string
	Headers                map[string]string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider rate limited (HTTP %d): %s", e.StatusCode, e.Body)
}

// ResponseFormatError means the provider answered 2xx with a body we could
// not interpret.
type ResponseFormatError struct {
	Reason string
}

func (e *ResponseFormatError) Error() string {
	return "unexpected response format: " + e.Reason
}

// StreamParseError wraps a failure while consuming a streamed response.
type StreamParseError struct {
	Reason string
	Err    error
}

func (e *StreamParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream parse: %s: %v", e.Reason, e.Err)
	}
	return "stream parse: " + e.Reason
}

func (e *StreamParseError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the caller may retry. Everything except
// InvalidInputError is transient from the caller's point of view.
func IsRetryable(err error) bool {
	var invalid *InvalidInputError
	return err != nil && !errors.As(err, &invalid)
}
