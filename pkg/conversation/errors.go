package conversation

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conversation package.
var (
	// ErrMissingAPIKey indicates the API key was not provided.
	ErrMissingAPIKey = errors.New("conversation: API key is required")

	// ErrNotConnected indicates the session transport is not open.
	ErrNotConnected = errors.New("conversation: not connected")

	// ErrAlreadyConnected indicates Connect was called twice.
	ErrAlreadyConnected = errors.New("conversation: already connected")

	// ErrConnectionClosed indicates the connection was closed unexpectedly.
	ErrConnectionClosed = errors.New("conversation: connection closed")

	// ErrInvalidMessage indicates a malformed server message.
	ErrInvalidMessage = errors.New("conversation: invalid message")

	// ErrUnsupportedAPIVersion indicates an unknown realtime protocol version.
	ErrUnsupportedAPIVersion = errors.New("conversation: unsupported API version")

	// ErrRateLimited indicates the API rate limit was exceeded.
	ErrRateLimited = errors.New("conversation: rate limited")
)

// APIError is an error reported by the realtime API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Type       string
	Retryable  bool
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("conversation: API error [%s]: %s", e.Code, e.Message)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("conversation: API error (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("conversation: API error: %s", e.Message)
}

// NewAPIError creates an APIError. 429 and 5xx are retryable.
func NewAPIError(statusCode int, code, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Retryable:  statusCode == 429 || statusCode >= 500,
	}
}

// ConnectionError wraps a transport failure.
type ConnectionError struct {
	Reason    string
	Cause     error
	Retryable bool
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("conversation: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("conversation: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a ConnectionError.
func NewConnectionError(reason string, cause error, retryable bool) *ConnectionError {
	return &ConnectionError{Reason: reason, Cause: cause, Retryable: retryable}
}

// IsNotConnected reports whether err means there is no open transport.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrConnectionClosed)
}

// IsRetryable reports whether the operation may be retried.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Retryable
	}
	return errors.Is(err, ErrRateLimited)
}
