// Package apierr defines the error taxonomy and the JSON envelope every
// failed request is rendered as.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	CodeCSRFTokenMissing  Code = "CSRF_TOKEN_MISSING"
	CodeCSRFTokenInvalid  Code = "CSRF_TOKEN_INVALID"
	CodeAccountLocked     Code = "ACCOUNT_LOCKED"
	CodeInvalidCreds      Code = "INVALID_CREDENTIALS"
	CodeRequestTooLarge   Code = "REQUEST_TOO_LARGE"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeInternal          Code = "INTERNAL_SERVER_ERROR"

	CodeBadRequest Code = "BAD_REQUEST"
	CodeForbidden  Code = "FORBIDDEN"
	CodeNotFound   Code = "NOT_FOUND"
	CodeConflict   Code = "CONFLICT"

	CodeMethodNotAllowed Code = "METHOD_NOT_ALLOWED"
	CodeUnavailable      Code = "SERVICE_UNAVAILABLE"
)

// GenericInternalMessage is the only text a caller ever sees for an
// unexpected failure.
const GenericInternalMessage = "An unexpected error occurred. Please try again later."

// Error is a deliberate, typed failure. Status, Code, Message and Details are
// sent to the caller verbatim.
type Error struct {
	Status  int
	Code    Code
	Message string
	Details map[string]any
	// Err is kept for logs only.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a typed error.
func New(status int, code Code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// WithDetail returns a copy of e carrying one more detail entry.
func (e *Error) WithDetail(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Wrap returns a copy of e that records cause for server-side logs.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, message)
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, CodeBadRequest, message)
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, CodeForbidden, message)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, CodeNotFound, message)
}

func Conflict(message string) *Error {
	return New(http.StatusConflict, CodeConflict, message)
}

// FromStatus maps a bare HTTP status to a typed error with the conventional code.
func FromStatus(status int, message string) *Error {
	code := Code(fmt.Sprintf("HTTP_%d", status))
	switch status {
	case http.StatusBadRequest:
		code = CodeBadRequest
	case http.StatusUnauthorized:
		code = CodeUnauthorized
	case http.StatusForbidden:
		code = CodeForbidden
	case http.StatusNotFound:
		code = CodeNotFound
	case http.StatusMethodNotAllowed:
		code = CodeMethodNotAllowed
	case http.StatusConflict:
		code = CodeConflict
	case http.StatusRequestEntityTooLarge:
		code = CodeRequestTooLarge
	case http.StatusUnprocessableEntity:
		code = CodeValidation
	case http.StatusTooManyRequests:
		code = CodeRateLimitExceeded
	case http.StatusInternalServerError:
		code = CodeInternal
	case http.StatusServiceUnavailable:
		code = CodeUnavailable
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return New(status, code, message)
}

// FieldError describes one violated input constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ValidationError aggregates every violated field of one request.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func (v *ValidationError) Error() string {
	parts := make([]string, 0, len(v.Fields))
	for _, f := range v.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a violation.
func (v *ValidationError) Add(field, kind, message string) {
	v.Fields = append(v.Fields, FieldError{Field: field, Message: message, Type: kind})
}

// OrNil returns v when any violation was recorded, otherwise nil.
func (v *ValidationError) OrNil() error {
	if v == nil || len(v.Fields) == 0 {
		return nil
	}
	return v
}

// Body is the payload under the "error" key of an [Envelope].
type Body struct {
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	ErrorID   string         `json:"error_id"`
	Timestamp string         `json:"timestamp"`
}

// Envelope is the single response shape for every failure.
type Envelope struct {
	Error Body `json:"error"`
}

// NewEnvelope stamps a body with the correlation id and time.
func NewEnvelope(code Code, message string, details map[string]any, errorID string, at time.Time) Envelope {
	if details == nil {
		details = map[string]any{}
	}
	return Envelope{Error: Body{
		Code:      code,
		Message:   message,
		Details:   details,
		ErrorID:   errorID,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}}
}

// As is a convenience over errors.As for *Error.
func As(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}
