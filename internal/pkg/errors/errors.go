// Package errors carries the coded error type shared by the lienzo
// services. A Code classifies the failure for routing decisions; Fields
// carry structured context that outlives the error string.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies an error.
type Code string

const (
	CodeInternal    Code = "INTERNAL_ERROR"
	CodeValidation  Code = "VALIDATION_ERROR"
	CodeNotFound    Code = "NOT_FOUND"
	CodeTimeout     Code = "TIMEOUT"
	CodeUnavailable Code = "UNAVAILABLE"
)

// Error is a coded error with an optional operation tag and context fields.
type Error struct {
	Code    Code
	Message string
	Op      string
	Err     error
	Fields  map[string]any
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = "[" + string(e.Code) + "] " + msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by code so comparisons work across wraps.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithField adds a context field to the error.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with an operation and message. A coded err keeps its
// code and fields; anything else becomes CodeInternal.
func Wrap(err error, op string, message string) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return &Error{Code: e.Code, Message: message, Op: op, Err: err, Fields: e.Fields}
	}
	return &Error{Code: CodeInternal, Message: message, Op: op, Err: err}
}

// WrapWithCode wraps err under an explicit code.
func WrapWithCode(err error, code Code, op string, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Op: op, Err: err}
}

// GetCode extracts the code from any error. Uncoded errors count as
// internal.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode checks whether err carries a specific code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// As is a convenience wrapper for errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is a convenience wrapper for errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
