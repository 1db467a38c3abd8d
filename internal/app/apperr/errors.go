// Package apperr defines the error taxonomy surfaced to realtime clients.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeNotParticipant  Code = "NOT_PARTICIPANT"
	CodeRideNotFound    Code = "RIDE_NOT_FOUND"
	CodeForbidden       Code = "FORBIDDEN"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeNotInRoom       Code = "NOT_IN_ROOM"
	CodeUnknownEvent    Code = "UNKNOWN_EVENT"
	// CodeStoreUnavailable reports a failed persisted-store call. The message sent to clients
	// never includes the underlying cause.
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
)

// Error is an application-layer error that is mapped to an outbound error event.
type Error struct {
	Code    Code
	Message string
	Details map[string]any

	// Err is the underlying cause, kept for logs.
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Code, so the predeclared values below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil || e == nil {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrUnauthenticated  = &Error{Code: CodeUnauthenticated, Message: "authentication required"}
	ErrNotParticipant   = &Error{Code: CodeNotParticipant, Message: "not a participant of this ride"}
	ErrRideNotFound     = &Error{Code: CodeRideNotFound, Message: "ride not found"}
	ErrForbidden        = &Error{Code: CodeForbidden, Message: "only the organizer may do this"}
	ErrInvalidState     = &Error{Code: CodeInvalidState, Message: "action not allowed in the ride's current state"}
	ErrStoreUnavailable = &Error{Code: CodeStoreUnavailable, Message: "temporarily unavailable, try again"}
)

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Validation(msg string, details map[string]any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

func InvalidState(msg string, details map[string]any) *Error {
	return &Error{Code: CodeInvalidState, Message: msg, Details: details}
}

// Store wraps a persisted-store failure.
func Store(err error) *Error {
	return &Error{Code: CodeStoreUnavailable, Message: ErrStoreUnavailable.Message, Err: err}
}

// CodeOf returns the code carried by err, or CodeStoreUnavailable for foreign errors.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeStoreUnavailable
}

// As converts any error to an *Error. Unknown errors become store failures.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Store(err)
}
