package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the registry has no such package.
	ErrNotFound = errors.New("not found")
	// ErrMalformedResponse is returned when a registry document cannot be parsed.
	ErrMalformedResponse = errors.New("malformed registry response")
	// ErrRegistryUnavailable is returned while the circuit breaker is open.
	ErrRegistryUnavailable = errors.New("registry unavailable")
)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("Failed to fetch package info: %s", e.Status)
}

// IsNotFound returns true if the error represents a 404 response.
func (e *HTTPError) IsNotFound() bool {
	return e.StatusCode == 404
}

// Unwrap exposes ErrNotFound for 404 responses.
func (e *HTTPError) Unwrap() error {
	if e.IsNotFound() {
		return ErrNotFound
	}
	return nil
}
