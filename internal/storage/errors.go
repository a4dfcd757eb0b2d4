// Package storage defines the store-facing contract the engine programs
// against, independent of the concrete SQLite implementation.
package storage

import "errors"

var (
	// ErrNotFound is returned when a referenced mnemonic does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrInvalidInput is returned for malformed or empty operation payloads.
	ErrInvalidInput = errors.New("storage: invalid input")

	// ErrConflict is returned when a rename targets an already-taken mnemonic.
	ErrConflict = errors.New("storage: mnemonic already in use")
)
