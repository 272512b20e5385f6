// Package sentinel holds the storage-level facts record stores report.
// Stores return them, possibly wrapped; the engine translates them into
// domain errors. Input validation uses pkg/domain-errors instead.
package sentinel

import "errors"

var (
	// ErrNotFound: no record matches the key.
	ErrNotFound = errors.New("not found")
	// ErrConflict: the stored version is not the one the write expected.
	ErrConflict = errors.New("conflict")
	// ErrAlreadyUsed: a unique key such as a document number is held by
	// another record.
	ErrAlreadyUsed = errors.New("already used")
)
