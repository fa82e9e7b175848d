// Package errdefs defines the error kinds shared by the registry, supervisor
// and discovery packages. Concrete errors wrap one of the sentinels below so
// callers can classify them with errors.Is.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfiguration marks a bad or missing configuration value. Always
	// recoverable through defaults.
	ErrConfiguration = errors.New("configuration error")

	// ErrResourceUnavailable is returned when a requested port is in use or no
	// port is free in the allocation range.
	ErrResourceUnavailable = errors.New("resource unavailable")

	// ErrSpawnFailure is returned when a dev-server process cannot be started.
	ErrSpawnFailure = errors.New("process spawn failed")

	// ErrStorage is returned when the registry or a lock file cannot be read
	// or written.
	ErrStorage = errors.New("storage failure")

	// ErrNotFound is returned for unknown project or server ids.
	ErrNotFound = errors.New("not found")

	// ErrValidationRejected is returned when a liveness or ownership check fails.
	ErrValidationRejected = errors.New("validation rejected")
)

// Wrap returns an error that matches kind under errors.Is and carries msg.
func Wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// WrapErr attaches kind to an underlying cause, keeping both matchable.
func WrapErr(kind error, cause error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", kind, fmt.Sprintf(format, args...), cause)
}

// HTTPStatus maps an error kind to the status code used by the HTTP adapter.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrResourceUnavailable):
		return http.StatusConflict
	case errors.Is(err, ErrValidationRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrStorage):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrConfiguration):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
