package api

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes a transport error.
type ErrorKind string

const (
	// ErrorKindDecode marks a malformed submitted body. Reported to the
	// submitting client only; never reaches the inbound queue.
	ErrorKindDecode ErrorKind = "decode_error"

	// ErrorKindCancelled marks a submission aborted by the caller's
	// deadline or by transport shutdown.
	ErrorKindCancelled ErrorKind = "submission_cancelled"

	// ErrorKindSubscriptionClosed marks a read from a subscription that
	// has been closed.
	ErrorKindSubscriptionClosed ErrorKind = "subscription_closed"

	// ErrorKindTransportClosed marks an operation against a transport
	// whose shutdown has completed draining.
	ErrorKindTransportClosed ErrorKind = "transport_closed"

	// ErrorKindNotFound marks a request to an unrecognized path.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindMethodNotAllowed marks an unsupported HTTP method on the
	// recognized endpoint path.
	ErrorKindMethodNotAllowed ErrorKind = "method_not_allowed"

	// ErrorKindInternal marks an unexpected server-side failure, such as
	// a recovered handler panic.
	ErrorKindInternal ErrorKind = "internal_error"
)

// TransportError is a structured transport-level error. The HTTP layer
// uses the kind to pick a status code and serializes the error as the
// response body.
type TransportError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	err     error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *TransportError) Unwrap() error {
	return e.err
}

// ErrorResponse wraps a TransportError for JSON serialization as the
// top-level error response body.
type ErrorResponse struct {
	Error *TransportError `json:"error"`
}

// NewDecodeError creates a TransportError for a malformed submission.
func NewDecodeError(cause error) *TransportError {
	return &TransportError{
		Kind:    ErrorKindDecode,
		Message: "malformed message: " + cause.Error(),
		err:     cause,
	}
}

// NewSubmissionCancelledError creates a TransportError for a submission
// aborted by cancellation or shutdown.
func NewSubmissionCancelledError(reason string) *TransportError {
	return &TransportError{
		Kind:    ErrorKindCancelled,
		Message: reason,
	}
}

// NewSubscriptionClosedError creates a TransportError for a read from a
// closed subscription.
func NewSubscriptionClosedError() *TransportError {
	return &TransportError{
		Kind:    ErrorKindSubscriptionClosed,
		Message: "subscription is closed",
	}
}

// NewTransportClosedError creates a TransportError for an operation on a
// fully drained, shut-down transport.
func NewTransportClosedError() *TransportError {
	return &TransportError{
		Kind:    ErrorKindTransportClosed,
		Message: "transport is shut down",
	}
}

// NewNotFoundError creates a TransportError for an unrecognized path.
func NewNotFoundError(path string) *TransportError {
	return &TransportError{
		Kind:    ErrorKindNotFound,
		Message: "no such endpoint: " + path,
	}
}

// NewMethodNotAllowedError creates a TransportError for an unsupported
// HTTP method on the endpoint path.
func NewMethodNotAllowedError(method string) *TransportError {
	return &TransportError{
		Kind:    ErrorKindMethodNotAllowed,
		Message: "method not allowed: " + method,
	}
}

// NewInternalError creates a TransportError for an unexpected
// server-side failure.
func NewInternalError(message string) *TransportError {
	return &TransportError{
		Kind:    ErrorKindInternal,
		Message: message,
	}
}

// ErrorKindOf returns the kind of err when it is (or wraps) a
// TransportError, or an empty kind otherwise.
func ErrorKindOf(err error) ErrorKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
