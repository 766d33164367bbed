// Package werr defines the controller's error taxonomy. Every failure
// crossing a component boundary is classified with a Kind so the HTTP
// façade can map it to a status code without string matching.
package werr

import (
	"net/http"

	"github.com/go-faster/errors"
)

// Kind classifies a controller error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindForbidden
	KindNotFound
	KindConflict
	KindServiceUnavailable
	KindTimeout
	KindBadGateway
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindTimeout:
		return "timeout"
	case KindBadGateway:
		return "bad_gateway"
	default:
		return "internal"
	}
}

// HTTPStatus maps the kind to its HTTP status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindBadGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified controller error. Field is set for validation
// failures that concern a specific request field.
type Error struct {
	Kind  Kind
	Field string
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// Is allows errors.Is comparisons against sentinel *Error values by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.msg == ""
}

// New creates a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Newf creates a classified error with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: errors.Errorf(format, args...).Error()}
}

// Wrap classifies an underlying error.
func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg, cause: err}
}

// Validation creates a validation error bound to a field.
func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, msg: msg}
}

// KindOf extracts the kind from an error chain, defaulting to internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
