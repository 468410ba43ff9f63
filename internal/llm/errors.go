package llm

import (
	"errors"
	"fmt"
)

// Errors returned by the client.
var (
	// ErrAuthError indicates a missing or rejected API key.
	ErrAuthError = errors.New("LLM provider authentication error")

	// ErrRateLimited indicates the provider kept answering 429 after retries.
	ErrRateLimited = errors.New("LLM provider rate limit exceeded")

	// ErrInvalidResponse indicates a body that is not the expected JSON.
	ErrInvalidResponse = errors.New("invalid response from LLM provider")

	// ErrNoEndpoint is returned when the client has no endpoint configured.
	ErrNoEndpoint = errors.New("no LLM endpoint configured")
)

// APIError is a provider-reported failure, either an HTTP error status or a
// response with success=false.
type APIError struct {
	StatusCode int
	Message    string
	// FirstLine is the first transcript line of the failed batch.
	FirstLine int
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("LLM provider error (status %d, batch at line %d): %s", e.StatusCode, e.FirstLine, e.Message)
	}
	return fmt.Sprintf("LLM provider error (batch at line %d): %s", e.FirstLine, e.Message)
}

// retryable reports whether a failed call may succeed if repeated.
func (e *APIError) retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsRateLimited reports whether err is a rate-limit failure.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}
