package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest           = "BAD_REQUEST"
	ErrUnauthorized         = "UNAUTHORIZED"
	ErrForbidden            = "FORBIDDEN"
	ErrNotFound             = "NOT_FOUND"
	ErrValidationError      = "VALIDATION_ERROR"
	ErrInternalError        = "INTERNAL_ERROR"
	ErrBackendUnavailable   = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout       = "BACKEND_TIMEOUT"
	ErrSessionExpired       = "SESSION_EXPIRED"
	ErrUploadTooLarge       = "UPLOAD_TOO_LARGE"
	ErrUnsupportedFieldType = "UNSUPPORTED_FIELD_TYPE"
)

// ErrorEnvelope is the standard error response envelope returned by the
// console API. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AsEnvelope returns the ErrorEnvelope wrapped in err, if any.
func AsEnvelope(err error) (*ErrorEnvelope, bool) {
	var env *ErrorEnvelope
	if errors.As(err, &env) {
		return env, true
	}
	return nil, false
}

// HasCode reports whether err wraps an ErrorEnvelope with the given code.
func HasCode(err error, code string) bool {
	env, ok := AsEnvelope(err)
	return ok && env.Code == code
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The backend service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The backend service did not respond in time",
	}
}

// NewSessionExpiredError returns a SESSION_EXPIRED error.
func NewSessionExpiredError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrSessionExpired,
		Message: "Your session has expired. Please log in again.",
	}
}

// NewUploadTooLargeError returns an UPLOAD_TOO_LARGE error.
func NewUploadTooLargeError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUploadTooLarge,
		Message: "File size should not exceed 5MB.",
	}
}

// NewUnsupportedFieldTypeError returns an UNSUPPORTED_FIELD_TYPE error.
func NewUnsupportedFieldTypeError(t FieldType) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUnsupportedFieldType,
		Message: fmt.Sprintf("Field type %q is not supported", string(t)),
	}
}
