package domain

import "errors"

// Common domain errors
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrProfileNotFound  = errors.New("profile not found")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrBadRequest       = errors.New("bad request")
	ErrPolicyEvalFailed = errors.New("policy evaluation failed")
	ErrRateLimited      = errors.New("rate limit exceeded")
)

// Machine-readable error codes carried by ErrorResponse.
const (
	CodeEmptyStream     = "EMPTY_STREAM"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeInvalidConfig   = "INVALID_CONFIG"
	CodeBadRequest      = "BAD_REQUEST"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternal        = "INTERNAL"
)

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

// NewError builds a DomainError for err with a code and a client-safe message.
func NewError(code string, err error, message string) *DomainError {
	return &DomainError{Err: err, Code: code, Message: message}
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// ErrorResponse defines the standard JSON error model returned by the HTTP API.
// TraceID carries the current OpenTelemetry trace identifier when available.
type ErrorResponse struct {
	Code    string `json:"code"`               // Machine-readable error code (e.g., EMPTY_STREAM)
	Message string `json:"message"`            // Human-readable message (safe for logs)
	TraceID string `json:"trace_id,omitempty"` // Optional trace/correlation ID
}
