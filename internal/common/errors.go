package common

import (
	"net/http"
)

// AppError is an error that knows how it should be rendered to API clients.
// Declare sentinels with NewAppError and compare them with errors.Is.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// WithDetails copies sentinel and attaches details for the response body.
// The copy wraps the sentinel, so errors.Is keeps matching.
func WithDetails(sentinel *AppError, details any) *AppError {
	if sentinel == nil {
		return nil
	}
	out := *sentinel
	out.Err = sentinel
	out.Details = details
	return &out
}

// BadRequest builds a 400 error for malformed input.
func BadRequest(message string, err error) *AppError {
	return NewAppError("BAD_REQUEST", message, http.StatusBadRequest, err)
}

func (e *AppError) body() (int, ErrorBody) {
	status := e.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	b := ErrorBody{Code: e.Code, Message: e.Message, Details: e.Details}
	if b.Code == "" {
		b.Code = codeInternal
	}
	if b.Message == "" {
		b.Message = http.StatusText(status)
	}
	return status, b
}
