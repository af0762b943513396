package transport

import (
	"errors"
	"fmt"
)

// DefaultErrorMessage is used when a failed response carries no reason.
const DefaultErrorMessage = "unknown API error"

// APIError is a failed exchange that produced a response.
type APIError struct {
	// Message is the envelope error reason, verbatim.
	Message string
	// StatusCode is the HTTP status code of the response.
	StatusCode int
	// Code is the envelope code field, zero when the body was not an envelope.
	Code int
	// Err is the decode failure for bodies that were not envelopes.
	Err error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NetworkError is a failed exchange that never produced a response.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsStatus reports whether err is an [*APIError] with the given status and,
// when reason is non-empty, the given reason.
func IsStatus(err error, status int, reason string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode != status {
		return false
	}
	return reason == "" || apiErr.Message == reason
}
