package analytics

import "errors"

var (
	// ErrInvalidInput marks a record or argument outside its domain. Nothing is written.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStoreUnavailable means the record store could not serve a read or write.
	ErrStoreUnavailable = errors.New("record store unavailable")
	// ErrInconsistent marks a record whose interview does not exist.
	ErrInconsistent = errors.New("inconsistent record")
	// ErrNotFound is returned when a snapshot or record does not exist yet.
	ErrNotFound = errors.New("not found")
	// ErrStale means a global pass saw an interview that was not clean.
	ErrStale = errors.New("snapshot stale")
)
