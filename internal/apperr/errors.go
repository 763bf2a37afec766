// Package apperr defines the error taxonomy shared by the queue, processors and HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Category groups error codes by how callers should react to them.
type Category string

const (
	// CategoryInvalidRequest marks caller errors. Never retried.
	CategoryInvalidRequest Category = "invalid_request"
	// CategoryUpstreamAI marks AI provider failures and unusable model output.
	CategoryUpstreamAI Category = "upstream_ai"
	// CategoryQueueUnavailable marks a backing store that cannot accept submissions.
	CategoryQueueUnavailable Category = "queue_unavailable"
	// CategoryNotFound marks unknown resources.
	CategoryNotFound Category = "not_found"
	// CategoryRateLimited marks requests rejected by the rate limiter.
	CategoryRateLimited Category = "rate_limited"
	// CategoryInternal marks everything else.
	CategoryInternal Category = "internal"
)

// Machine-readable codes returned in the JSON error envelope.
const (
	CodeMissingFields      = "MISSING_FIELDS"
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidJSON        = "INVALID_JSON"
	CodeAIService          = "AI_SERVICE_ERROR"
	CodeAIInvalidResponse  = "AI_INVALID_RESPONSE"
	CodeQueueUnavailable   = "QUEUE_UNAVAILABLE"
	CodeJobNotFound        = "JOB_NOT_FOUND"
	CodeUnknownJobType     = "UNKNOWN_JOB_TYPE"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeInternal           = "INTERNAL_ERROR"
	MessageMalformedAIJSON = "AI returned malformed JSON"
)

// AppError is a structured application error with a category, code, message and optional cause.
// It supports wrapping so errors.Is and errors.As see through it.
type AppError struct {
	Category Category
	Code     string
	Message  string
	// Fields names the request fields involved, for validation errors.
	Fields []string
	Cause  error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// MissingFields reports absent or blank required fields.
func MissingFields(fields ...string) *AppError {
	return &AppError{
		Category: CategoryInvalidRequest,
		Code:     CodeMissingFields,
		Message:  "missing required fields: " + strings.Join(fields, ", "),
		Fields:   fields,
	}
}

// Validation reports a field that is present but invalid.
func Validation(field, reason string) *AppError {
	msg := reason
	if field != "" {
		msg = field + ": " + reason
	}
	return &AppError{
		Category: CategoryInvalidRequest,
		Code:     CodeValidation,
		Message:  msg,
		Fields:   nonEmpty(field),
	}
}

// InvalidJSON reports an undecodable request body.
func InvalidJSON(cause error) *AppError {
	return &AppError{
		Category: CategoryInvalidRequest,
		Code:     CodeInvalidJSON,
		Message:  "request body is not valid JSON",
		Cause:    cause,
	}
}

// UpstreamAI wraps a failed AI provider call.
func UpstreamAI(cause error) *AppError {
	return &AppError{
		Category: CategoryUpstreamAI,
		Code:     CodeAIService,
		Message:  "AI service request failed",
		Cause:    cause,
	}
}

// MalformedAIResponse reports model output that could not be parsed as JSON.
func MalformedAIResponse(cause error) *AppError {
	return &AppError{
		Category: CategoryUpstreamAI,
		Code:     CodeAIInvalidResponse,
		Message:  MessageMalformedAIJSON,
		Cause:    cause,
	}
}

// QueueUnavailable reports that a job could not be submitted.
func QueueUnavailable(cause error) *AppError {
	return &AppError{
		Category: CategoryQueueUnavailable,
		Code:     CodeQueueUnavailable,
		Message:  "job queue is unavailable",
		Cause:    cause,
	}
}

// JobNotFound reports an unknown job id.
func JobNotFound(id string) *AppError {
	return &AppError{
		Category: CategoryNotFound,
		Code:     CodeJobNotFound,
		Message:  fmt.Sprintf("job %s not found", id),
	}
}

// UnknownJobType reports an unsupported job kind.
func UnknownJobType(kind string) *AppError {
	return &AppError{
		Category: CategoryNotFound,
		Code:     CodeUnknownJobType,
		Message:  fmt.Sprintf("unknown job type %q", kind),
	}
}

// RateLimited reports a request rejected by the limiter.
func RateLimited(class string) *AppError {
	return &AppError{
		Category: CategoryRateLimited,
		Code:     CodeRateLimitExceeded,
		Message:  fmt.Sprintf("too many %s requests, try again later", class),
	}
}

// Internal wraps an unexpected failure.
func Internal(cause error) *AppError {
	return &AppError{
		Category: CategoryInternal,
		Code:     CodeInternal,
		Message:  "internal server error",
		Cause:    cause,
	}
}

// As extracts the AppError from err, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func isCategory(err error, c Category) bool {
	appErr, ok := As(err)
	return ok && appErr.Category == c
}

// IsInvalidRequest reports whether err is a caller error.
func IsInvalidRequest(err error) bool { return isCategory(err, CategoryInvalidRequest) }

// IsUpstreamAI reports whether err came from the AI provider.
func IsUpstreamAI(err error) bool { return isCategory(err, CategoryUpstreamAI) }

// IsQueueUnavailable reports whether err means the queue rejected a submission.
func IsQueueUnavailable(err error) bool { return isCategory(err, CategoryQueueUnavailable) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return isCategory(err, CategoryNotFound) }

// Code returns the machine-readable code of err, or CodeInternal when err carries none.
func Code(err error) string {
	if appErr, ok := As(err); ok && appErr.Code != "" {
		return appErr.Code
	}
	return CodeInternal
}

// Retryable reports whether a job attempt that failed with err may be retried.
func Retryable(err error) bool {
	return err != nil && !IsInvalidRequest(err)
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	appErr, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch appErr.Category {
	case CategoryInvalidRequest:
		return http.StatusBadRequest
	case CategoryUpstreamAI:
		return http.StatusBadGateway
	case CategoryQueueUnavailable:
		return http.StatusServiceUnavailable
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show to API clients.
// Internal causes are never exposed.
func PublicMessage(err error) string {
	appErr, ok := As(err)
	if !ok || appErr.Category == CategoryInternal {
		return "internal server error"
	}
	return appErr.Message
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}
