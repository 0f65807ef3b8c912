// Package domainerrors carries stable, machine-readable error codes across
// service boundaries. Services translate store sentinels into these errors;
// transports translate them into status codes.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code is the stable identifier surfaced to callers.
type Code string

const (
	CodeValidation           Code = "validation_error"
	CodeBadRequest           Code = "bad_request"
	CodeInvalidInput         Code = "invalid_input"
	CodeInsufficientEvidence Code = "insufficient_evidence"
	CodeInvalidStatus        Code = "invalid_status"
	CodeInvalidTransition    Code = "invalid_transition"
	CodeOutOfRange           Code = "out_of_range"
	CodeInvariantViolation   Code = "invariant_violation"
	CodeNotFound             Code = "not_found"
	CodeConflict             Code = "conflict"
	CodeUnauthorized         Code = "unauthorized"
	CodeForbidden            Code = "forbidden"
	CodeUnavailable          Code = "unavailable"
	CodeTimeout              Code = "timeout"
	CodeInternal             Code = "internal_error"
)

// Kind groups codes into the handling classes callers branch on.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindAuth           Kind = "auth"
	KindInfrastructure Kind = "infrastructure"
)

// Error is a domain error with a code, a human message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an error without an underlying cause.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for err != nil {
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// CodeOf returns the outermost domain code, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// KindOf classifies an error for retry and fail-open decisions.
func KindOf(err error) Kind {
	switch CodeOf(err) {
	case CodeValidation, CodeBadRequest, CodeInvalidInput, CodeInsufficientEvidence,
		CodeInvalidStatus, CodeInvalidTransition, CodeOutOfRange, CodeInvariantViolation:
		return KindValidation
	case CodeNotFound:
		return KindNotFound
	case CodeConflict:
		return KindConflict
	case CodeUnauthorized, CodeForbidden:
		return KindAuth
	default:
		return KindInfrastructure
	}
}

// ToHTTPStatus maps a code to its HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeBadRequest, CodeInvalidInput, CodeInsufficientEvidence,
		CodeInvalidStatus, CodeOutOfRange:
		return http.StatusBadRequest
	case CodeInvalidTransition, CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
