// Package status defines the result codes the ref service reports and the
// structured error carrying them.
package status

import (
	"errors"
	"fmt"
)

// Code classifies a failed call.
type Code string

const (
	OK              Code = "ok"
	InvalidArgument Code = "invalid_argument"
	NotFound        Code = "not_found"
	Unimplemented   Code = "unimplemented"
	Internal        Code = "internal"
)

// Error is a failed call with a code and an optional structured detail.
type Error struct {
	Code    Code
	Message string
	Detail  map[string]string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf creates a status error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgumentf reports a malformed or self-contradictory request.
func InvalidArgumentf(format string, args ...any) *Error {
	return Errorf(InvalidArgument, format, args...)
}

// NotFoundRef reports a missing reference. The detail carries its full path.
func NotFoundRef(message, referenceName string) *Error {
	return &Error{
		Code:    NotFound,
		Message: message,
		Detail:  map[string]string{"reference_name": referenceName},
	}
}

// Unimplementedf reports an operation the backing model cannot serve.
func Unimplementedf(format string, args ...any) *Error {
	return Errorf(Unimplemented, format, args...)
}

// Internalf reports an unexpected failure.
func Internalf(format string, args ...any) *Error {
	return Errorf(Internal, format, args...)
}

// CodeOf returns the code carried by err. Errors that are not status
// errors are Internal, and a nil error is OK.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return Internal
}

// FromError returns err as a status error, wrapping foreign errors as
// Internal.
func FromError(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Code: Internal, Message: err.Error()}
}
