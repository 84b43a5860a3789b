// Package errors provides kinded errors shared by the exchange, the registry
// and the relay layer, plus their RFC 7807 rendering.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions
var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

// Error kinds. Every failure that aborts a unit of work carries one of these.
const (
	KindInvalidOrder         = "InvalidOrder"
	KindAuthenticationFailed = "AuthenticationFailed"
	KindAlreadyFinalized     = "AlreadyFinalized"
	KindOrdersIncompatible   = "OrdersIncompatible"
	KindValueMismatch        = "ValueMismatch"
	KindDelayNotElapsed      = "DelayNotElapsed"
	KindNotAuthorized        = "NotAuthorized"
	KindTransferFailed       = "TransferFailed"
	KindAlreadyInitialized   = "AlreadyInitialized"
	KindNotFound             = "NotFound"
	KindInvalidRequest       = "InvalidRequest"
	KindUnknown              = "Unknown"
)

var (
	InvalidOrder         = NewWithKind(KindInvalidOrder)
	AuthenticationFailed = NewWithKind(KindAuthenticationFailed)
	AlreadyFinalized     = NewWithKind(KindAlreadyFinalized)
	OrdersIncompatible   = NewWithKind(KindOrdersIncompatible)
	ValueMismatch        = NewWithKind(KindValueMismatch)
	DelayNotElapsed      = NewWithKind(KindDelayNotElapsed)
	NotAuthorized        = NewWithKind(KindNotAuthorized)
	TransferFailed       = NewWithKind(KindTransferFailed)
	AlreadyInitialized   = NewWithKind(KindAlreadyInitialized)
	NotFound             = NewWithKind(KindNotFound)
	// InvalidRequest rejects malformed query API input.
	InvalidRequest = NewWithKind(KindInvalidRequest)
)

// FieldError represents a validation error for a specific field
type FieldError struct {
	Kind    string `json:"kind"`
	Field   string `json:"field"`
	Message string `json:"message,omitempty"`
}

func (f *FieldError) Error() string {
	return fmt.Sprintf("%s (%s): %s", f.Field, f.Kind, f.Message)
}

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicate the error
	Message string `json:"message"`
	// Fields used when there's validation error for a field.
	Fields []FieldError `json:"fields,omitempty"`

	cause error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: KindUnknown, Message: message}
}

func NewWithKind(kind string) *Error {
	return &Error{Kind: kind}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s]", e.Kind)
	if e.Message != "" {
		str += " " + e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	return str
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap returns a copy of the error with the given cause
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// WithField returns a copy of error with the field appended.
func (e *Error) WithField(kind, field, message string) *Error {
	newError := *e
	newError.Fields = append(append([]FieldError(nil), e.Fields...), FieldError{Kind: kind, Field: field, Message: message})
	return &newError
}

// Is implements the needed interface for errors.Is.
// Two *Error values match when their kinds are equal.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain,
// or KindUnknown.
func KindOf(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StatusFor maps an error kind to the HTTP status used by the query API.
func StatusFor(kind string) int {
	switch kind {
	case KindInvalidOrder, KindOrdersIncompatible, KindValueMismatch, KindInvalidRequest:
		return http.StatusBadRequest
	case KindAuthenticationFailed:
		return http.StatusUnauthorized
	case KindNotAuthorized:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyFinalized, KindAlreadyInitialized:
		return http.StatusConflict
	case KindDelayNotElapsed, KindTransferFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
