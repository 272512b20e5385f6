// Package domainerrors carries the error vocabulary services hand back to
// callers. Stores and adapters return plain (often sentinel) errors; services
// translate them into a coded *Error so the outer layer can map a code to a
// response without string matching.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a failure for callers.
type Code string

const (
	// CodeInvalidEvidence: malformed, oversized or wrong-type artifact. No state was mutated.
	CodeInvalidEvidence Code = "invalid_evidence"
	// CodeDuplicateDocument: the extracted document number already belongs to another record.
	CodeDuplicateDocument Code = "duplicate_document"
	// CodeInvalidState: operation not permitted for the record's current status.
	CodeInvalidState Code = "invalid_state"
	// CodeConflict: lost an optimistic-concurrency race; the caller should retry the whole operation.
	CodeConflict Code = "conflict"
	// CodeProviderUnavailable: an OCR/biometric provider call failed or timed out. Retryable.
	CodeProviderUnavailable Code = "provider_unavailable"
	CodeNotFound            Code = "not_found"
	CodeValidation          Code = "validation"
	// CodeInvariantViolation is raised by model constructors and state methods.
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal"
)

// Error is a coded domain error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a coded error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// GetCode returns the code of the outermost *Error in the chain, or
// CodeInternal when the chain carries none.
func GetCode(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the outermost *Error in the chain has the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Retryable reports whether the caller may retry the whole operation.
func Retryable(err error) bool {
	switch GetCode(err) {
	case CodeConflict, CodeProviderUnavailable:
		return true
	default:
		return false
	}
}
