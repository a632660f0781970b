package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a guarded write finds the row in an unexpected state
	ErrConflict = errors.New("conflict: entity changed underneath the writer")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrTombstoned is returned when a write targets a removed project
	ErrTombstoned = errors.New("project removed")

	// ErrClaimLost is returned when a commit's claim token no longer owns the project
	ErrClaimLost = errors.New("claim no longer held")
)
