// Package oautherr defines the protocol error taxonomy of RFC 6749, 7009 and
// 7662. Every failure surfaced by an OAuth endpoint maps to one of these
// kinds; controllers render them as {"error","error_description"} bodies.
package oautherr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a protocol error class.
type Kind int

const (
	InvalidRequest Kind = iota
	InvalidClient
	InvalidGrant
	UnauthorizedClient
	UnsupportedGrantType
	InvalidScope
	AccessDenied
	ServerError
	TemporarilyUnavailable
)

// Code returns the lower_snake_case protocol error code.
func (k Kind) Code() string {
	switch k {
	case InvalidRequest:
		return "invalid_request"
	case InvalidClient:
		return "invalid_client"
	case InvalidGrant:
		return "invalid_grant"
	case UnauthorizedClient:
		return "unauthorized_client"
	case UnsupportedGrantType:
		return "unsupported_grant_type"
	case InvalidScope:
		return "invalid_scope"
	case AccessDenied:
		return "access_denied"
	case ServerError:
		return "server_error"
	case TemporarilyUnavailable:
		return "temporarily_unavailable"
	default:
		return "server_error"
	}
}

// HTTPStatus returns the status associated with the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidClient:
		return http.StatusUnauthorized
	case ServerError:
		return http.StatusInternalServerError
	case TemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// Error is a protocol error: a kind plus a short human-readable description.
// Descriptions never contain secret material and never disclose whether a
// client_id exists.
type Error struct {
	Kind        Kind
	Description string
	cause       error
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Kind.Code()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Description)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a protocol error.
func New(kind Kind, description string) *Error {
	return &Error{Kind: kind, Description: description}
}

// Wrap creates a protocol error preserving the underlying cause for logs.
// The cause is never rendered to clients.
func Wrap(kind Kind, description string, cause error) *Error {
	return &Error{Kind: kind, Description: description, cause: cause}
}

// KindOf extracts the kind from err, defaulting to ServerError for anything
// that is not a protocol error (storage faults, crypto faults already mapped
// upstream).
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ServerError
}

// DescriptionOf extracts the client-safe description from err, or a generic
// message for unexpected errors.
func DescriptionOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) && pe.Description != "" {
		return pe.Description
	}
	return "an unexpected error occurred"
}
