package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// APIError is returned by the glab client when a call fails. StatusCode is
// zero when the call never produced an HTTP status (timeouts, missing binary).
type APIError struct {
	StatusCode int
	Message    string
	Response   []byte
}

func NewAPIError(statusCode int, message string, response []byte) *APIError {
	return &APIError{StatusCode: statusCode, Message: message, Response: response}
}

// NewAPIErrorFromMessage builds an APIError whose status is sniffed from the message text.
func NewAPIErrorFromMessage(message string, response []byte) *APIError {
	return NewAPIError(ClassifyStatus(message), message, response)
}

func NewTimeoutError(seconds int) *APIError {
	return NewAPIError(0, fmt.Sprintf("Request timed out after %ds", seconds), nil)
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// Retryable reports whether the failed call may be attempted again.
func (e *APIError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsAPIError checks if the error is an APIError.
func IsAPIError(err error) bool {
	var e *APIError
	return errors.As(err, &e)
}

// StatusCode returns the status carried by an APIError in the chain, or -1.
func StatusCode(err error) int {
	var e *APIError
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return -1
}

func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

func IsForbidden(err error) bool {
	return StatusCode(err) == http.StatusForbidden
}

func IsRetryable(err error) bool {
	var e *APIError
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// ClassifyStatus extracts an HTTP status from a glab error message.
// glab does not expose the status separately, so the text is searched in a
// fixed order and anything unrecognised is reported as 500.
func ClassifyStatus(message string) int {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(message, "404"):
		return http.StatusNotFound
	case strings.Contains(message, "401") || strings.Contains(lower, "unauthorized"):
		return http.StatusUnauthorized
	case strings.Contains(message, "403") || strings.Contains(lower, "forbidden"):
		return http.StatusForbidden
	case strings.Contains(message, "422"):
		return http.StatusUnprocessableEntity
	case strings.Contains(message, "429"):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// UnknownRoleError indicates a role without a configured token.
type UnknownRoleError struct {
	Role string
}

func NewUnknownRoleError(role string) *UnknownRoleError {
	return &UnknownRoleError{Role: role}
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown role: %s", e.Role)
}

func IsUnknownRoleError(err error) bool {
	var e *UnknownRoleError
	return errors.As(err, &e)
}

// ResourceNotFoundError indicates a resource was not found.
type ResourceNotFoundError struct {
	Kind string
	Key  string
}

func NewResourceNotFoundError(kind, key string) *ResourceNotFoundError {
	return &ResourceNotFoundError{Kind: kind, Key: key}
}

func NewProjectNotFoundError(path string) *ResourceNotFoundError {
	return NewResourceNotFoundError("project", path)
}

func NewGroupNotFoundError(path string) *ResourceNotFoundError {
	return NewResourceNotFoundError("group", path)
}

func (e *ResourceNotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func IsResourceNotFoundError(err error) bool {
	var e *ResourceNotFoundError
	return errors.As(err, &e)
}

// NotReadyError indicates a GitLab instance that did not become ready in time.
type NotReadyError struct {
	URL     string
	Timeout time.Duration
	Cause   error
}

func NewNotReadyError(url string, timeout time.Duration, cause error) *NotReadyError {
	return &NotReadyError{URL: url, Timeout: timeout, Cause: cause}
}

func (e *NotReadyError) Error() string {
	msg := fmt.Sprintf("gitlab at %s not ready after %s", e.URL, e.Timeout)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *NotReadyError) Unwrap() error {
	return e.Cause
}

func IsNotReadyError(err error) bool {
	var e *NotReadyError
	return errors.As(err, &e)
}
