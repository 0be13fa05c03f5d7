package api

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure produced by the pipeline wraps exactly one of
// these, so callers classify errors with errors.Is.
var (
	ErrUnsupportedFormat    = errors.New("unsupported format")
	ErrLoadError            = errors.New("load error")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrEmbeddingProvider    = errors.New("embedding provider error")
	ErrDimensionMismatch    = errors.New("dimension mismatch")
	ErrDimensionConflict    = errors.New("dimension conflict")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrGenerationStream     = errors.New("generation stream error")
)

var kinds = []error{
	ErrUnsupportedFormat,
	ErrLoadError,
	ErrInvalidConfiguration,
	ErrEmbeddingProvider,
	ErrDimensionMismatch,
	ErrDimensionConflict,
	ErrInvalidArgument,
	ErrStoreUnavailable,
	ErrGenerationStream,
}

// Error is a classified pipeline failure. Kind is one of the Err* sentinels,
// Op names the operation that failed, and Err holds the underlying cause.
type Error struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

// NewError creates a classified error.
func NewError(kind error, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the error kind carried by err, or nil when err is not a
// classified pipeline error.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// StageError adds ingestion context (source file and pipeline stage) to a
// classified error so callers know what to retry.
type StageError struct {
	Filename string
	Stage    IngestState
	Err      error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("ingest %q failed at %s: %v", e.Filename, e.Stage, e.Err)
}

// Unwrap returns the wrapped error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// ErrorType represents the category of an HTTP-facing error.
type ErrorType string

const (
	ErrorTypeServerError      ErrorType = "server_error"
	ErrorTypeInvalidRequest   ErrorType = "invalid_request"
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeUnsupportedMedia ErrorType = "unsupported_media_type"
	ErrorTypeUnprocessable    ErrorType = "unprocessable_entity"
	ErrorTypeConflict         ErrorType = "conflict"
	ErrorTypeUpstream         ErrorType = "upstream_error"
	ErrorTypeUnavailable      ErrorType = "service_unavailable"
	ErrorTypeTooManyRequests  ErrorType = "too_many_requests"
	ErrorTypeAuthentication   ErrorType = "authentication_error"
)

// APIError is the JSON error body returned to HTTP and MCP clients.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewInvalidRequestError creates an APIError for invalid request parameters.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Param:   param,
		Message: message,
	}
}

// NewNotFoundError creates an APIError for resources that cannot be found.
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewServerError creates an APIError for internal server errors.
func NewServerError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Message: message,
	}
}

// NewTooManyRequestsError creates an APIError for rate limiting.
func NewTooManyRequestsError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeTooManyRequests,
		Message: message,
	}
}

// ToAPIError converts any error into the wire representation, deriving the
// type and code from the error kind.
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	out := &APIError{Type: ErrorTypeServerError, Message: err.Error()}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		out.Param = string(stageErr.Stage)
	}

	switch KindOf(err) {
	case ErrUnsupportedFormat:
		out.Type, out.Code = ErrorTypeUnsupportedMedia, "unsupported_format"
	case ErrLoadError:
		out.Type, out.Code = ErrorTypeUnprocessable, "load_error"
	case ErrInvalidConfiguration:
		out.Type, out.Code = ErrorTypeInvalidRequest, "invalid_configuration"
	case ErrInvalidArgument:
		out.Type, out.Code = ErrorTypeInvalidRequest, "invalid_argument"
	case ErrDimensionMismatch:
		out.Type, out.Code = ErrorTypeConflict, "dimension_mismatch"
	case ErrDimensionConflict:
		out.Type, out.Code = ErrorTypeConflict, "dimension_conflict"
	case ErrEmbeddingProvider:
		out.Type, out.Code = ErrorTypeUpstream, "embedding_provider_error"
	case ErrGenerationStream:
		out.Type, out.Code = ErrorTypeUpstream, "generation_stream_error"
	case ErrStoreUnavailable:
		out.Type, out.Code = ErrorTypeUnavailable, "store_unavailable"
	}
	return out
}
