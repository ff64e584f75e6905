package stash

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stashworks/stash/internal/op"
)

// RuntimeError represents a failure detected while admitting or committing
// operations.
//
// Runtime errors include:
//   - Malformed operation: shape or identity check failed before staging
//   - Unresolved dependency: a consumed cell has no known live producer
//   - Conflicting consumption: a consumed cell was already spent
//   - Verification failure: a witness or schema check rejected the operation
//   - Integrity violation: internal invariants broken, halts the contract
//   - Persistence failure: the durable log could not record a result
//
// RuntimeError carries structured fields for diagnostics and recovery.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// OpID identifies the affected operation, when known.
	OpID string

	// ContractID identifies the contract.
	ContractID string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeMalformed indicates the operation failed shape or identity checks.
	ErrCodeMalformed RuntimeErrorCode = "MALFORMED_OPERATION"

	// ErrCodeUnresolved indicates a consumed cell has no live producer yet.
	ErrCodeUnresolved RuntimeErrorCode = "UNRESOLVED_DEPENDENCY"

	// ErrCodeConflict indicates a consumed cell was already spent.
	ErrCodeConflict RuntimeErrorCode = "CONFLICTING_CONSUMPTION"

	// ErrCodeVerification indicates a witness or schema check failed.
	ErrCodeVerification RuntimeErrorCode = "VERIFICATION_FAILURE"

	// ErrCodeIntegrity indicates a broken internal invariant. The contract
	// halts and refuses further writes until recovery.
	ErrCodeIntegrity RuntimeErrorCode = "INTEGRITY_VIOLATION"

	// ErrCodePersistence indicates the durable log rejected a write.
	ErrCodePersistence RuntimeErrorCode = "PERSISTENCE_FAILURE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.OpID != "" && e.ContractID != "" {
		return fmt.Sprintf("%s: %s (op=%s, contract=%s)", e.Code, e.Message, e.OpID, e.ContractID)
	}
	if e.OpID != "" {
		return fmt.Sprintf("%s: %s (op=%s)", e.Code, e.Message, e.OpID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsMalformed returns true if the error is a malformed operation error.
// Uses errors.As to handle wrapped errors.
func IsMalformed(err error) bool {
	return hasCode(err, ErrCodeMalformed)
}

// IsUnresolved returns true if the error is an unresolved dependency error.
func IsUnresolved(err error) bool {
	return hasCode(err, ErrCodeUnresolved)
}

// IsConflict returns true if the error is a conflicting consumption error.
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsVerification returns true if the error is a verification failure.
func IsVerification(err error) bool {
	return hasCode(err, ErrCodeVerification)
}

// IsIntegrity returns true if the error is an integrity violation.
func IsIntegrity(err error) bool {
	return hasCode(err, ErrCodeIntegrity)
}

// IsPersistence returns true if the error is a persistence failure.
func IsPersistence(err error) bool {
	return hasCode(err, ErrCodePersistence)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewMalformedError creates a RuntimeError for a shape or identity failure.
func NewMalformedError(opid string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeMalformed,
		Message: cause.Error(),
		OpID:    opid,
	}
}

// NewUnresolvedError creates a RuntimeError for a pending operation whose
// listed inputs have no live producer yet.
func NewUnresolvedError(opid string, missing []op.CellID) *RuntimeError {
	names := make([]string, len(missing))
	for i, cell := range missing {
		names[i] = cell.String()
	}
	return &RuntimeError{
		Code:    ErrCodeUnresolved,
		Message: fmt.Sprintf("waiting on %s", strings.Join(names, ", ")),
		OpID:    opid,
		Details: map[string]string{
			"missing": strings.Join(names, ","),
		},
	}
}

// NewConflictError creates a RuntimeError for a spent-cell conflict.
func NewConflictError(opid, cell, spender string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeConflict,
		Message: fmt.Sprintf("cell %s already consumed by %s", cell, spender),
		OpID:    opid,
		Details: map[string]string{
			"cell":    cell,
			"spender": spender,
		},
	}
}

// NewVerificationError creates a RuntimeError for a failed witness or
// schema check.
func NewVerificationError(opid string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeVerification,
		Message: cause.Error(),
		OpID:    opid,
	}
}

// NewIntegrityError creates a RuntimeError that halts the contract.
func NewIntegrityError(contractID, msg string) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeIntegrity,
		Message:    msg,
		ContractID: contractID,
	}
}

// NewPersistenceError wraps a storage failure.
func NewPersistenceError(opid string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodePersistence,
		Message: cause.Error(),
		OpID:    opid,
	}
}
