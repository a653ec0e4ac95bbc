package client

import (
	"errors"
	"fmt"
)

// HTTPError represents a non-2xx HTTP response from the API.
type HTTPError struct {
	StatusCode int
	Message    string
	// Detail is the message the backend put in its JSON error body.
	// Empty when the body was not a recognised error document.
	Detail string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus returns true if err (or any wrapped error) is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}

// ServerMessage returns the backend-provided message carried by err, if any.
// Transport failures and other non-HTTP errors report ok=false.
func ServerMessage(err error) (msg string, ok bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Detail, httpErr.Detail != ""
	}
	return "", false
}
