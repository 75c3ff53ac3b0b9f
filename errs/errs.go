// Package errs defines the error taxonomy shared by all authz packages.
//
// Callers classify failures with errors.Is against the sentinel values:
//
//	if errs.IsNotFound(err) {
//	    return c.JSON(http.StatusNotFound, ...)
//	}
//
// Wrapping keeps the sentinel reachable while adding context:
//
//	return errs.NotFoundf("invitation token %q", token)
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks caller-correctable input: malformed ids,
	// unknown roles, invalid share targets. Always reported before any write.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound marks a missing entity: unknown invitation token, a
	// tombstoned resource referenced as live.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized marks an attempted change without sufficient role.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStorage marks an unreachable store or a partially failed batch
	// write. Never swallowed on the grant path.
	ErrStorage = errors.New("storage failure")
)

func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Unauthorizedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

// Storage wraps an underlying store error so it classifies as ErrStorage
// while preserving the cause for logging.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

func IsInvalidArgument(err error) bool { return errors.Is(err, ErrInvalidArgument) }
func IsNotFound(err error) bool        { return errors.Is(err, ErrNotFound) }
func IsUnauthorized(err error) bool    { return errors.Is(err, ErrUnauthorized) }
func IsStorage(err error) bool         { return errors.Is(err, ErrStorage) }
