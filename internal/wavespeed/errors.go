package wavespeed

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidRequest marks submissions rejected before reaching the provider.
	ErrInvalidRequest = errors.New("invalid generation request")
	// ErrProviderProtocol marks responses whose shape could not be understood.
	ErrProviderProtocol = errors.New("unexpected provider response")
	// ErrTransport marks network failures and retryable HTTP statuses.
	ErrTransport = errors.New("provider transport error")
	ErrUpload    = errors.New("binary upload failed")
)

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wavespeed: status %d, body: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// Unwrap lets errors.Is(err, ErrTransport) match retryable statuses.
func (e *APIError) Unwrap() error {
	if e.Retryable() {
		return ErrTransport
	}
	return nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
