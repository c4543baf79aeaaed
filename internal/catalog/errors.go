package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"
)

// Error taxonomy. Callers switch with errors.Is; local recovery (retry,
// degrade) happens inside this package, everything else surfaces.
var (
	// ErrTimeout is returned when a query exceeds the per-call deadline.
	ErrTimeout = errors.New("catalog: query timeout")

	// ErrBusy is returned when SQLITE_BUSY/SQLITE_LOCKED persisted through
	// the bounded retry schedule.
	ErrBusy = errors.New("catalog: database busy")

	// ErrSchemaMissing is returned when a required table or column is absent.
	ErrSchemaMissing = errors.New("catalog: schema missing")

	// ErrValidation is returned for malformed paths or parameters.
	ErrValidation = errors.New("catalog: validation")

	// ErrNotFound is returned when a required row does not exist.
	ErrNotFound = errors.New("catalog: not found")
)

// isBusyErr reports whether the driver error is a transient lock conflict
// worth retrying.
func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// mapError normalizes driver and context errors into the package taxonomy.
// Unrecognized errors pass through wrapped only by the caller.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case isBusyErr(err):
		return ErrBusy
	default:
		return err
	}
}
