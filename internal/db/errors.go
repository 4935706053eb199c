package db

import "errors"

// Errors returned by storage operations.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, db.ErrForbidden) {
//	    // The record exists but belongs to another user
//	}
var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("expense not found")

	// ErrForbidden is returned when the record exists but is owned by
	// a different user than the caller.
	ErrForbidden = errors.New("access denied")

	// ErrUnsupportedDSN is returned by Open for a DSN scheme no driver
	// is registered for.
	ErrUnsupportedDSN = errors.New("unsupported database DSN")
)
