// Package store implements the plan repository and the database registry
// lookup on PostgreSQL, plus an in-memory repository for local runs.
package store

import "errors"

var (
	// ErrNotFound is returned when an operation or unit does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating an operation whose name is
	// already taken for its kind.
	ErrAlreadyExists = errors.New("already exists")
)
