// Package errs defines the error taxonomy shared by Mission Control
// handlers and services. Errors wrap one of the sentinel kinds so callers
// can map them to HTTP status codes or queue ERROR replies without string
// matching.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel error kinds.
var (
	// ErrValidation covers malformed envelopes, unknown commands, and bad
	// identifiers. The handler reports it to the caller and alters no state.
	ErrValidation = errors.New("validation error")

	// ErrNotFound covers missing missions and pending inputs.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied covers a caller userId that does not match the
	// mission owner.
	ErrAccessDenied = errors.New("access denied")

	// ErrCollaboratorUnavailable is the terminal form of a transient
	// collaborator failure after the bounded retries are exhausted.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrIllegalTransition covers a mission status change not permitted by
	// the lifecycle state machine.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// AccessDeniedf wraps ErrAccessDenied with a formatted message.
func AccessDeniedf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrAccessDenied}, args...)...)
}

// HTTPStatus maps an error to the HTTP status code its kind demands.
// Unclassified errors are internal.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrIllegalTransition):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrCollaboratorUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
