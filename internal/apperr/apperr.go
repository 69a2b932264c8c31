// Package apperr defines the closed set of error kinds shared by the escrow,
// oracle and UTxO components.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error. The set is closed; callers switch on it.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindValidation
	KindStateConflict
	KindAuthorization
	KindNotFound
	KindExternalService
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindValidation:
		return "ValidationError"
	case KindStateConflict:
		return "StateConflictError"
	case KindAuthorization:
		return "AuthorizationError"
	case KindNotFound:
		return "NotFoundError"
	case KindExternalService:
		return "ExternalServiceError"
	default:
		return "UnknownError"
	}
}

// Error is a tagged error. Two errors match under errors.Is when their kind and
// code are equal, so package-level sentinels can be compared against errors
// that carry extra context.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// With returns a copy of e wrapping cause.
func (e *Error) With(cause error) *Error {
	out := *e
	out.Err = cause
	return &out
}

// Withf returns a copy of e with a formatted message appended.
func (e *Error) Withf(format string, args ...any) *Error {
	out := *e
	detail := fmt.Sprintf(format, args...)
	if out.Message != "" {
		out.Message += " (" + detail + ")"
	} else {
		out.Message = detail
	}
	return &out
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Configuration(code, message string) *Error {
	return New(KindConfiguration, code, message)
}

func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

func StateConflict(code, message string) *Error {
	return New(KindStateConflict, code, message)
}

func Authorization(code, message string) *Error {
	return New(KindAuthorization, code, message)
}

func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

func ExternalService(code, message string) *Error {
	return New(KindExternalService, code, message)
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf reports the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
