package deskapi

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error.
type Kind int

const (
	// KindAPI is any other non-success response.
	KindAPI Kind = iota
	// KindValidation is a local pre-flight failure; the request was never sent.
	KindValidation
	// KindAuth is a 401/403 response.
	KindAuth
	// KindNotFound is a 404 response.
	KindNotFound
	// KindConflict is a 409 response, e.g. a duplicate workspace key.
	KindConflict
	// KindTransport is a network or decode failure.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransport:
		return "transport"
	default:
		return "api"
	}
}

// Error is the single error type surfaced by the gateway and by local
// validation. Error() returns a message suitable for display.
type Error struct {
	Kind    Kind
	Status  int    // HTTP status, 0 when no response was received
	Field   string // offending field for KindValidation
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// Message returns the displayable message for err, looking through any
// wrapping added by callers.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// Validation returns a local validation error for field.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// Auth returns a local permission error.
func Auth(message string) *Error {
	return &Error{Kind: KindAuth, Message: message}
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	default:
		return KindAPI
	}
}

// statusError builds the error for a non-2xx response. message is the
// server-provided text, if any.
func statusError(status int, message string) *Error {
	if message == "" {
		message = fmt.Sprintf("Request failed (%d)", status)
	}
	return &Error{Kind: kindForStatus(status), Status: status, Message: message}
}

func transportError(err error) *Error {
	return &Error{Kind: KindTransport, Message: fmt.Sprintf("Request failed: %v", err), Err: err}
}
