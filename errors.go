package videoframe

import (
	"fmt"
	"net/http"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Err is the kind of failure reported by the upload pipeline. Wrapped errors
// created with With and Withf still match their kind with errors.Is and
// errors.As.
type Err int

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// ErrValidation is a user-correctable problem with the submitted file,
	// such as a disallowed content type. It is never retried.
	ErrValidation Err = iota

	// ErrDurationExceeded is a validation failure for a video that is longer
	// than the configured maximum duration.
	ErrDurationExceeded

	// ErrCapabilityUnsupported is returned when the storage backend cannot
	// perform an operation, such as presigning on a bare filesystem.
	ErrCapabilityUnsupported

	// ErrTransfer is an I/O failure while moving bytes into or out of storage.
	ErrTransfer

	// ErrNotFound is returned when a key or upload does not exist.
	ErrNotFound

	// ErrConnection is returned when the progress stream cannot be
	// re-established.
	ErrConnection

	// ErrConflict is returned when an operation is not valid for the
	// current session state.
	ErrConflict
)

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (e Err) Error() string {
	switch e {
	case ErrValidation:
		return "validation error"
	case ErrDurationExceeded:
		return "duration exceeded"
	case ErrCapabilityUnsupported:
		return "capability unsupported"
	case ErrTransfer:
		return "transfer error"
	case ErrNotFound:
		return "not found"
	case ErrConnection:
		return "connection error"
	case ErrConflict:
		return "conflict"
	default:
		return fmt.Sprint("error code ", int(e))
	}
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// With returns the error kind with additional context.
func (e Err) With(args ...any) error {
	return fmt.Errorf("%w: %s", e, fmt.Sprint(args...))
}

// Withf returns the error kind with formatted context.
func (e Err) Withf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", e, fmt.Sprintf(format, args...))
}

// Is reports whether ErrDurationExceeded should also match ErrValidation.
func (e Err) Is(target error) bool {
	if t, ok := target.(Err); ok {
		return e == t || (e == ErrDurationExceeded && t == ErrValidation)
	}
	return false
}

// Status returns the HTTP status code for the error kind.
func (e Err) Status() int {
	switch e {
	case ErrValidation, ErrDurationExceeded:
		return http.StatusBadRequest
	case ErrCapabilityUnsupported:
		return http.StatusNotImplemented
	case ErrTransfer:
		return http.StatusBadGateway
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConnection:
		return http.StatusServiceUnavailable
	case ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
