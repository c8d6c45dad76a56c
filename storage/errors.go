package storage

import "errors"

var (
	// ErrStorageIO wraps read, write, lock and rename failures of a backend.
	ErrStorageIO = errors.New("session storage i/o failure")
	// ErrCorruptSnapshot is returned by Load when the persisted snapshot as a
	// whole cannot be parsed. The accompanying map is empty and usable.
	ErrCorruptSnapshot = errors.New("corrupt session snapshot")
	// ErrMalformedRecord describes a single persisted entry that failed
	// validation. Such entries are skipped on load.
	ErrMalformedRecord = errors.New("malformed session record")
)
