package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeAPI         ErrorType = "api"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Sentinel errors shared by the synchronization engine. Wrap them with %w
// and test with errors.Is.
var (
	// ErrMalformedIdentifier is returned when a composite identifier cannot be decoded.
	ErrMalformedIdentifier = errors.New("malformed identifier")
	// ErrUnresolvedParent is returned when a photo references an album that is not stored locally.
	ErrUnresolvedParent = errors.New("unresolved parent album")
	// ErrTransientFetch is returned when a page fetch keeps failing after all retries.
	ErrTransientFetch = errors.New("transient fetch failure")
	// ErrInvalidQuery is returned before any network call when a query is missing required scoping.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrInvalidRecord is returned when a raw record misses or mangles a required field.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrTimeout is returned when a caller-supplied timeout aborts a retrieval loop.
	ErrTimeout = errors.New("retrieval timed out")
	// ErrNotFound is returned by stores when an entity does not exist.
	ErrNotFound = errors.New("not found")
)

// Error represents an API error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

// Is lets errors.Is(err, ErrTransientFetch) match retryable API errors.
func (e *Error) Is(target error) bool {
	return target == ErrTransientFetch && IsRetryable(e.Type)
}

// New creates a typed error
func New(errorType ErrorType, code int, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errorType,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	}
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	case ErrorTypeAuth, ErrorTypeNotFound, ErrorTypeParsing, ErrorTypeAPI:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 401, 403, 404: // Client errors that won't change
		return false
	default:
		return statusCode >= 500 // Retry all 5xx errors
	}
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown when err does not
// carry one.
func TypeOf(err error) ErrorType {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Type
	}
	return ErrorTypeUnknown
}

// RecordError describes one raw record that was skipped during ingestion.
type RecordError struct {
	// Index is the position of the record in the pass, counting from 0.
	Index int `json:"index" yaml:"index"`
	// RemoteID is the composite identifier when it could be computed.
	RemoteID string `json:"remote_id,omitempty" yaml:"remote_id,omitempty"`
	Err      error  `json:"-" yaml:"-"`
	// Reason mirrors Err for serialized reports.
	Reason string `json:"reason" yaml:"reason"`
}

// NewRecordError builds a RecordError and fills Reason from err.
func NewRecordError(index int, remoteID string, err error) RecordError {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return RecordError{Index: index, RemoteID: remoteID, Err: err, Reason: reason}
}

func (e RecordError) Error() string {
	if e.RemoteID != "" {
		return fmt.Sprintf("record %d (%s): %v", e.Index, e.RemoteID, e.Err)
	}
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}
